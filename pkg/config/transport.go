package config

import (
    "fmt"
    "strings"

    "github.com/spf13/viper"
)

// TransportConfig selects the native provider behind the p2p core.
// Example YAML:
// transport:
//   provider: sim
//   env_prefix: UCXP2P
//   options:
//     TLS: "tcp,cuda_copy"
//   sim:
//     fabric: tcp
//     listen: 127.0.0.1
//     inject_threshold: 8192
//   close_timeout_ms: 0
type TransportConfig struct {
    // Provider: sim (pure Go) or ucx (requires the ucx build tag)
    Provider string `mapstructure:"provider"`
    // EnvPrefix is the namespace native configuration is read from
    EnvPrefix string `mapstructure:"env_prefix"`
    // Options override native configuration keys
    Options map[string]string `mapstructure:"options"`
    // Sim tunes the pure-Go provider
    Sim SimConfig `mapstructure:"sim"`
    // CloseTimeoutMS bounds endpoint close in the CLI; 0 waits forever
    CloseTimeoutMS int `mapstructure:"close_timeout_ms"`
}

// SimConfig describes the pure-Go provider's links. Unset fields are left to
// the provider, which reads <env_prefix>_SIM_* and then its own defaults.
type SimConfig struct {
    // Fabric: mem, tcp, quic or winpipe
    Fabric string `mapstructure:"fabric"`
    // Listen is the host (tcp/quic) or name prefix (mem/winpipe) workers bind to
    Listen string `mapstructure:"listen"`
    // InjectThreshold: sends up to this size complete at submission
    InjectThreshold *int `mapstructure:"inject_threshold"`
    // FragmentSize bounds the payload of one wire frame
    FragmentSize *int `mapstructure:"fragment_size"`
    // MemoryTypes the provider accepts (host, cuda, rocm, ...)
    MemoryTypes []string `mapstructure:"memory_types"`
}

// IntOpt returns a pointer to n, for the optional SimConfig fields.
func IntOpt(n int) *int { return &n }

// DefaultTransport returns the transport defaults.
func DefaultTransport() TransportConfig {
    return TransportConfig{
        Provider:  "sim",
        EnvPrefix: "UCXP2P",
        Options:   map[string]string{},
    }
}

func seedTransport(v *viper.Viper, t TransportConfig) {
    v.SetDefault("transport.provider", t.Provider)
    v.SetDefault("transport.env_prefix", t.EnvPrefix)
    v.SetDefault("transport.options", t.Options)
    // sim keys have no defaults; unset ones fall through to the provider
    for _, k := range []string{"fabric", "listen", "inject_threshold", "fragment_size", "memory_types"} {
        _ = v.BindEnv("transport.sim." + k)
    }
    v.SetDefault("transport.close_timeout_ms", t.CloseTimeoutMS)
}

func (t *TransportConfig) validate() error {
    t.Provider = strings.ToLower(strings.TrimSpace(t.Provider))
    switch t.Provider {
    case "":
        t.Provider = "sim"
    case "sim", "ucx":
    default:
        return fmt.Errorf("invalid transport.provider: %q", t.Provider)
    }
    if strings.TrimSpace(t.EnvPrefix) == "" {
        t.EnvPrefix = "UCXP2P"
    }
    t.Sim.Fabric = strings.ToLower(strings.TrimSpace(t.Sim.Fabric))
    if n := t.Sim.InjectThreshold; n != nil && *n < 0 {
        return fmt.Errorf("invalid transport.sim.inject_threshold: %d", *n)
    }
    if n := t.Sim.FragmentSize; n != nil && *n < 1 {
        return fmt.Errorf("invalid transport.sim.fragment_size: %d", *n)
    }
    if t.CloseTimeoutMS < 0 {
        return fmt.Errorf("invalid transport.close_timeout_ms: %d", t.CloseTimeoutMS)
    }
    return nil
}

// SimOptions renders the options and the set fields of the sim section as
// provider overrides.
func (t TransportConfig) SimOptions() map[string]string {
    out := map[string]string{}
    for k, v := range t.Options {
        out[strings.ToUpper(k)] = v
    }
    if t.Sim.Fabric != "" { out["SIM_FABRIC"] = t.Sim.Fabric }
    if t.Sim.Listen != "" { out["SIM_LISTEN"] = t.Sim.Listen }
    if n := t.Sim.InjectThreshold; n != nil { out["SIM_INJECT_THRESHOLD"] = fmt.Sprint(*n) }
    if n := t.Sim.FragmentSize; n != nil { out["SIM_FRAGMENT_SIZE"] = fmt.Sprint(*n) }
    if len(t.Sim.MemoryTypes) > 0 { out["SIM_MEMORY_TYPES"] = strings.Join(t.Sim.MemoryTypes, ",") }
    return out
}
