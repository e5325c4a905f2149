// Package config loads wgproxy's configuration from the environment.
//
// wgproxy reads exactly six WGPROXY_* variables and nothing else — no
// config file, no flags. See §6 of the specification for the full list.
package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgproxy/internal/logging"
)

const (
	envServer   = "WGPROXY_SERVER"
	envPubkeys  = "WGPROXY_PUBKEYS"
	envPubkey   = "WGPROXY_PUBKEY"
	envPorts    = "WGPROXY_PORTS"
	envListen   = "WGPROXY_LISTEN"
	envTimeout  = "WGPROXY_TIMEOUT"
	envLogLevel = "WGPROXY_LOGLEVEL"

	defaultListen  = "[::]:51820"
	defaultTimeout = 60 * time.Second
)

// Config is wgproxy's immutable runtime configuration, resolved once at
// startup (§3 Config).
type Config struct {
	Listen      netip.AddrPort
	Server      *net.UDPAddr
	PublicKeys  []wgtypes.Key
	PortLo      uint16
	PortHi      uint16
	IdleTimeout time.Duration
	LogLevel    logging.Level
}

// Error is a configuration error: the process must exit 1 (§6, §7).
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func configErrorf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Load reads and validates wgproxy's configuration from the environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

// load is the environment-agnostic core of Load, so tests can inject a
// fake environment instead of mutating process-global state.
func load(lookup func(string) (string, bool)) (Config, error) {
	var cfg Config

	server, ok := lookup(envServer)
	if !ok || strings.TrimSpace(server) == "" {
		return cfg, configErrorf("%s is required", envServer)
	}
	serverAddr, err := net.ResolveUDPAddr("udp", strings.TrimSpace(server))
	if err != nil {
		return cfg, configErrorf("resolve %s %q: %v", envServer, server, err)
	}
	cfg.Server = serverAddr

	keys, err := loadPublicKeys(lookup)
	if err != nil {
		return cfg, err
	}
	cfg.PublicKeys = keys

	lo, hi, err := loadPortRange(lookup)
	if err != nil {
		return cfg, err
	}
	cfg.PortLo, cfg.PortHi = lo, hi

	listen := defaultListen
	if v, ok := lookup(envListen); ok && strings.TrimSpace(v) != "" {
		listen = strings.TrimSpace(v)
	}
	addr, err := netip.ParseAddrPort(listen)
	if err != nil {
		host, port, splitErr := net.SplitHostPort(listen)
		if splitErr != nil {
			return cfg, configErrorf("parse %s %q: %v", envListen, listen, err)
		}
		ip, resolveErr := net.ResolveIPAddr("ip", host)
		if resolveErr != nil {
			return cfg, configErrorf("resolve %s %q: %v", envListen, listen, resolveErr)
		}
		p, convErr := strconv.ParseUint(port, 10, 16)
		if convErr != nil {
			return cfg, configErrorf("parse %s port %q: %v", envListen, port, convErr)
		}
		parsedIP, addrOk := netip.AddrFromSlice(ip.IP)
		if !addrOk {
			return cfg, configErrorf("parse %s %q: unrecognized address", envListen, listen)
		}
		addr = netip.AddrPortFrom(parsedIP.Unmap(), uint16(p))
	}
	cfg.Listen = addr

	cfg.IdleTimeout = defaultTimeout
	if v, ok := lookup(envTimeout); ok && strings.TrimSpace(v) != "" {
		secs, convErr := strconv.Atoi(strings.TrimSpace(v))
		if convErr != nil || secs <= 0 {
			return cfg, configErrorf("%s must be a positive integer number of seconds, got %q", envTimeout, v)
		}
		cfg.IdleTimeout = time.Duration(secs) * time.Second
	}

	level := int(logging.LevelInfo)
	if v, ok := lookup(envLogLevel); ok && strings.TrimSpace(v) != "" {
		n, convErr := strconv.Atoi(strings.TrimSpace(v))
		if convErr != nil {
			return cfg, configErrorf("%s must be an integer 0..4, got %q", envLogLevel, v)
		}
		level = n
	}
	parsedLevel, err := logging.ParseLevel(level)
	if err != nil {
		return cfg, configErrorf("%s: %v", envLogLevel, err)
	}
	cfg.LogLevel = parsedLevel

	return cfg, nil
}

func loadPublicKeys(lookup func(string) (string, bool)) ([]wgtypes.Key, error) {
	raw, ok := lookup(envPubkeys)
	if !ok || strings.TrimSpace(raw) == "" {
		raw, ok = lookup(envPubkey)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, configErrorf("%s or %s is required", envPubkeys, envPubkey)
	}

	parts := strings.Split(raw, ",")
	keys := make([]wgtypes.Key, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, err := parsePublicKey(part)
		if err != nil {
			return nil, configErrorf("parse public key %q: %v", part, err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, configErrorf("%s or %s must contain at least one key", envPubkeys, envPubkey)
	}
	return keys, nil
}

func parsePublicKey(s string) (wgtypes.Key, error) {
	if key, err := wgtypes.ParseKey(s); err == nil {
		return key, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("invalid base64: %w", err)
	}
	if len(decoded) != wgtypes.KeyLen {
		return wgtypes.Key{}, fmt.Errorf("key is %d bytes, want %d", len(decoded), wgtypes.KeyLen)
	}
	var key wgtypes.Key
	copy(key[:], decoded)
	return key, nil
}

func loadPortRange(lookup func(string) (string, bool)) (lo, hi uint16, err error) {
	raw, ok := lookup(envPorts)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, 0, configErrorf("%s is required", envPorts)
	}
	raw = strings.TrimSpace(raw)

	var loStr, hiStr string
	if before, after, found := strings.Cut(raw, "-"); found {
		loStr, hiStr = before, after
	} else {
		loStr, hiStr = raw, raw
	}

	loN, convErr := strconv.ParseUint(strings.TrimSpace(loStr), 10, 16)
	if convErr != nil {
		return 0, 0, configErrorf("parse %s lower bound %q: %v", envPorts, loStr, convErr)
	}
	hiN, convErr := strconv.ParseUint(strings.TrimSpace(hiStr), 10, 16)
	if convErr != nil {
		return 0, 0, configErrorf("parse %s upper bound %q: %v", envPorts, hiStr, convErr)
	}
	if loN == 0 || hiN == 0 {
		return 0, 0, configErrorf("%s must not include port 0", envPorts)
	}
	if loN > hiN {
		return 0, 0, configErrorf("%s is inverted: %d > %d", envPorts, loN, hiN)
	}
	return uint16(loN), uint16(hiN), nil
}
