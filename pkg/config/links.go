package config

import (
    "fmt"
    "strings"
    "time"

    "github.com/inspircd/inspircd-sub009/pkg/connection"
    "github.com/inspircd/inspircd-sub009/pkg/handshake"
)

// DefaultClassName is the class used by listeners and links that name none.
const DefaultClassName = "default"

// ClassConfig is a connect class: per-link queue ceilings and ping cadence.
type ClassConfig struct {
    Name         string        `mapstructure:"name"`
    SendQ        int           `mapstructure:"sendq"`
    RecvQ        int           `mapstructure:"recvq"`
    MaxLine      int           `mapstructure:"max_line"`
    PingInterval time.Duration `mapstructure:"ping_interval"`
}

// DefaultClass returns the built-in class.
func DefaultClass() ClassConfig {
    return ClassConfig{
        Name:         DefaultClassName,
        SendQ:        connection.DefaultSendQ,
        RecvQ:        connection.DefaultRecvQ,
        MaxLine:      connection.DefaultMaxLine,
        PingInterval: 2 * time.Minute,
    }
}

// Limits converts the class into connection ceilings.
func (c ClassConfig) Limits() connection.Limits {
    return connection.Limits{SendQ: c.SendQ, RecvQ: c.RecvQ, MaxLine: c.MaxLine}
}

// LinkConfig is a link block: a server we accept and possibly dial.
type LinkConfig struct {
    Name         string `mapstructure:"name"`
    Host         string `mapstructure:"host"`
    Port         int    `mapstructure:"port"`
    SendPassword string `mapstructure:"send_password"`
    RecvPassword string `mapstructure:"recv_password"`
    Class        string `mapstructure:"class"`
    Autoconnect  bool   `mapstructure:"autoconnect"`
}

// Address is the dial target. Hosts of the form mem://name are in-process.
func (l LinkConfig) Address() string {
    if strings.HasPrefix(l.Host, "mem://") {
        return l.Host
    }
    return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// Class returns the named class.
func (c *Config) Class(name string) (ClassConfig, bool) {
    if name == "" {
        name = DefaultClassName
    }
    for _, cl := range c.Classes {
        if cl.Name == name {
            return cl, true
        }
    }
    return ClassConfig{}, false
}

// Link returns the link block for a server name.
func (c *Config) Link(name string) (LinkConfig, bool) {
    name = strings.ToLower(name)
    for _, l := range c.Links {
        if l.Name == name {
            return l, true
        }
    }
    return LinkConfig{}, false
}

// LinkBlocks converts link blocks for the handshake validator.
func (c *Config) LinkBlocks() []handshake.LinkBlock {
    out := make([]handshake.LinkBlock, 0, len(c.Links))
    for _, l := range c.Links {
        out = append(out, handshake.LinkBlock{Name: l.Name, SendPassword: l.SendPassword, RecvPassword: l.RecvPassword})
    }
    return out
}

func (c *Config) validateClasses() error {
    if _, ok := c.Class(DefaultClassName); !ok {
        c.Classes = append(c.Classes, DefaultClass())
    }
    seen := make(map[string]bool, len(c.Classes))
    def := DefaultClass()
    for i := range c.Classes {
        cl := &c.Classes[i]
        cl.Name = strings.TrimSpace(cl.Name)
        if cl.Name == "" {
            return fmt.Errorf("classes[%d]: empty name", i)
        }
        if seen[cl.Name] {
            return fmt.Errorf("classes[%d]: duplicate class %q", i, cl.Name)
        }
        seen[cl.Name] = true
        if cl.SendQ <= 0 {
            cl.SendQ = def.SendQ
        }
        if cl.RecvQ <= 0 {
            cl.RecvQ = def.RecvQ
        }
        if cl.MaxLine <= 0 {
            cl.MaxLine = def.MaxLine
        }
        if cl.MaxLine > cl.RecvQ {
            return fmt.Errorf("classes[%d]: max_line %d exceeds recvq %d", i, cl.MaxLine, cl.RecvQ)
        }
        if cl.PingInterval <= 0 {
            cl.PingInterval = def.PingInterval
        }
    }
    return nil
}

func (c *Config) validateLinks() error {
    seen := make(map[string]bool, len(c.Links))
    for i := range c.Links {
        l := &c.Links[i]
        l.Name = strings.ToLower(strings.TrimSpace(l.Name))
        if !handshake.ValidServerName(l.Name) {
            return fmt.Errorf("links[%d]: invalid name %q", i, l.Name)
        }
        if l.Name == c.Server.Name {
            return fmt.Errorf("links[%d]: link block for ourselves", i)
        }
        if seen[l.Name] {
            return fmt.Errorf("links[%d]: duplicate link %q", i, l.Name)
        }
        seen[l.Name] = true
        if l.Class == "" {
            l.Class = DefaultClassName
        }
        if _, ok := c.Class(l.Class); !ok {
            return fmt.Errorf("links[%d]: unknown class %q", i, l.Class)
        }
        if l.Autoconnect {
            if l.Host == "" {
                return fmt.Errorf("links[%d]: autoconnect without host", i)
            }
            if !strings.HasPrefix(l.Host, "mem://") && (l.Port <= 0 || l.Port > 65535) {
                return fmt.Errorf("links[%d]: invalid port %d", i, l.Port)
            }
        }
    }
    return nil
}
