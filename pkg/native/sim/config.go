package sim

import (
    "fmt"
    "strconv"
    "strings"

    "github.com/spf13/viper"

    "ucxp2p/pkg/native"
    "ucxp2p/pkg/transport"
)

// Option keys understood by the provider. Under a prefix P they are read
// from the environment as P_<KEY>, e.g. UCXP2P_SIM_FABRIC=tcp.
const (
    KeyFabric          = "SIM_FABRIC"
    KeyListen          = "SIM_LISTEN"
    KeyInjectThreshold = "SIM_INJECT_THRESHOLD"
    KeyFragmentSize    = "SIM_FRAGMENT_SIZE"
    KeyMemoryTypes     = "SIM_MEMORY_TYPES"
    KeyMaxMessage      = "SIM_MAX_MESSAGE"
)

var defaults = map[string]string{
    KeyFabric:          "mem",
    KeyListen:          "127.0.0.1",
    KeyInjectThreshold: "8192",
    KeyFragmentSize:    "1048576",
    KeyMemoryTypes:     "host",
    KeyMaxMessage:      "1073741824",
}

// settings is the parsed form of a native.Config.
type settings struct {
    fabric          transport.Kind
    listen          string
    injectThreshold int
    fragmentSize    int
    memoryTypes     map[native.MemoryType]bool
    maxMessage      int
}

// readConfig resolves every key from overrides, then the environment, then
// defaults. Keys outside the SIM_ namespace belong to other providers and
// are ignored; unknown SIM_ keys are rejected.
func readConfig(prefix string, overrides map[string]string) (native.Config, native.Status) {
    v := viper.New()
    if prefix != "" { v.SetEnvPrefix(prefix) }
    for k := range defaults {
        _ = v.BindEnv(k)
    }

    opts := make(map[string]string, len(defaults))
    for k, def := range defaults {
        opts[k] = def
        if s := v.GetString(k); s != "" { opts[k] = s }
    }
    for k, val := range overrides {
        k = strings.ToUpper(k)
        if !strings.HasPrefix(k, "SIM_") { continue }
        if _, ok := defaults[k]; !ok { return native.Config{}, native.StatusErrNoElem }
        opts[k] = val
    }
    cfg := native.Config{Prefix: prefix, Options: opts}
    if _, err := parseSettings(cfg); err != nil { return native.Config{}, native.StatusErrInvalidParam }
    return cfg, native.StatusOK
}

func parseSettings(cfg native.Config) (settings, error) {
    get := func(k string) string {
        if s, ok := cfg.Options[k]; ok { return strings.TrimSpace(s) }
        return defaults[k]
    }
    var s settings
    s.fabric = transport.ParseKind(strings.ToLower(get(KeyFabric)))
    if s.fabric == transport.KindUnknown { return s, fmt.Errorf("%s: unknown fabric %q", KeyFabric, get(KeyFabric)) }
    s.listen = get(KeyListen)

    ints := []struct {
        key string
        dst *int
        min int
    }{
        {KeyInjectThreshold, &s.injectThreshold, 0},
        {KeyFragmentSize, &s.fragmentSize, 1},
        {KeyMaxMessage, &s.maxMessage, 0},
    }
    for _, it := range ints {
        n, err := strconv.Atoi(get(it.key))
        if err != nil { return s, fmt.Errorf("%s: %w", it.key, err) }
        if n < it.min { return s, fmt.Errorf("%s: %d below %d", it.key, n, it.min) }
        *it.dst = n
    }

    s.memoryTypes = make(map[native.MemoryType]bool)
    for _, name := range strings.Split(get(KeyMemoryTypes), ",") {
        if strings.TrimSpace(name) == "" { continue }
        mt, err := native.ParseMemoryType(name)
        if err != nil { return s, fmt.Errorf("%s: %w", KeyMemoryTypes, err) }
        s.memoryTypes[mt] = true
    }
    if len(s.memoryTypes) == 0 { return s, fmt.Errorf("%s: empty", KeyMemoryTypes) }
    return s, nil
}
