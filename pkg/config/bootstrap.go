package config

// BootstrapConfig configures the rank-0 address exchange used by the CLI.
type BootstrapConfig struct {
    // Listen is the rendezvous TCP address rank 0 serves on and others join
    Listen string `mapstructure:"listen"`
    // Format encodes exchange bodies: cbor, json or proto
    Format string `mapstructure:"format"`
    // TimeoutMS bounds the whole exchange
    TimeoutMS int `mapstructure:"timeout_ms"`
}
