// Package config parses the flat key=value configuration format shared by
// the server and client binaries. Grounded on
// original_source/common/dnxCfgParser.c's grammar: '#' line comments, blank
// lines, "var = val" pairs, no nesting, no line continuation. No
// third-party INI/YAML library in the example pack models this exact
// grammar, so a small hand-rolled scanner is used (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
)

// Map holds raw key=value pairs in file order of last assignment.
type Map map[string]string

// Parse reads a config stream into a Map, validating the grammar but not
// any key-specific semantics — callers extract what they need with the
// typed accessors below.
func Parse(r io.Reader) (Map, error) {
	m := make(Map)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: line %d: missing '='", dnxerr.ErrSyntax, lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			return nil, fmt.Errorf("%w: line %d: empty variable name", dnxerr.ErrSyntax, lineNo)
		}
		m[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", dnxerr.ErrSyntax, err)
	}
	return m, nil
}

// Load opens and parses a config file by path.
func Load(path string) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnxerr.ErrOpen, err)
	}
	defer f.Close()
	return Parse(f)
}

func (m Map) String(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m Map) Int(key string, def int) (int, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q: %v", dnxerr.ErrSyntax, key, err)
	}
	return n, nil
}

func (m Map) Uint(key string, def uint) (uint, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q: %v", dnxerr.ErrSyntax, key, err)
	}
	return uint(n), nil
}

func (m Map) Bool(key string, def bool) (bool, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: key %q: %v", dnxerr.ErrSyntax, key, err)
	}
	return b, nil
}

// ServerConfig is the validated §6.1 server configuration.
type ServerConfig struct {
	ChannelDispatcher  string
	ChannelCollector   string
	AuthWorkerNodes    []string
	MaxNodeRequests    int
	MinServiceSlots    int
	ExpirePollInterval int
	LocalCheckPattern  string
	SyncScript         string
	LogFacility        string
	AuditWorkerJobs    bool
	Debug              int
}

// ParseServerConfig loads and validates a server configuration file.
func ParseServerConfig(path string) (ServerConfig, error) {
	m, err := Load(path)
	if err != nil {
		return ServerConfig{}, err
	}
	return serverConfigFromMap(m)
}

func serverConfigFromMap(m Map) (ServerConfig, error) {
	var c ServerConfig
	c.ChannelDispatcher = m.String("channelDispatcher", "")
	c.ChannelCollector = m.String("channelCollector", "")
	if c.ChannelDispatcher == "" || c.ChannelCollector == "" {
		return ServerConfig{}, fmt.Errorf("%w: channelDispatcher and channelCollector are required", dnxerr.ErrInvalid)
	}
	if raw := m.String("authWorkerNodes", ""); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				c.AuthWorkerNodes = append(c.AuthWorkerNodes, addr)
			}
		}
	}

	var err error
	if c.MaxNodeRequests, err = m.Int("maxNodeRequests", 100); err != nil {
		return ServerConfig{}, err
	}
	if c.MinServiceSlots, err = m.Int("minServiceSlots", 100); err != nil {
		return ServerConfig{}, err
	}
	if c.ExpirePollInterval, err = m.Int("expirePollInterval", 5); err != nil {
		return ServerConfig{}, err
	}
	c.LocalCheckPattern = m.String("localCheckPattern", "")
	c.SyncScript = m.String("syncScript", "")
	c.LogFacility = m.String("logFacility", "")
	if c.AuditWorkerJobs, err = m.Bool("auditWorkerJobs", false); err != nil {
		return ServerConfig{}, err
	}
	if c.Debug, err = m.Int("debug", 0); err != nil {
		return ServerConfig{}, err
	}
	return c, nil
}

// ClientConfig is the validated §4.7 worker-side configuration.
type ClientConfig struct {
	ChannelAgent           string
	ChannelDispatcher      string
	ChannelCollector       string
	PluginPath             string
	PoolMin                int
	PoolInitial            int
	PoolMax                int
	PoolIncrement          int
	PollIntervalSecs       int
	ShutdownGraceSecs      int
	RequestTimeoutSecs     int
	TTLBackoffSecs         int
	MaxConsecutiveTimeouts int
	LogFacility            string
	Debug                  int
}

// ParseClientConfig loads and validates a worker configuration file,
// enforcing requestTimeoutSecs > ttlBackoffSecs >= 1 at load time (see
// DESIGN.md open question #4) so a malformed startup invariant fails fast
// instead of surfacing as a confusing runtime TTL underflow.
func ParseClientConfig(path string) (ClientConfig, error) {
	m, err := Load(path)
	if err != nil {
		return ClientConfig{}, err
	}
	return clientConfigFromMap(m)
}

func clientConfigFromMap(m Map) (ClientConfig, error) {
	var c ClientConfig
	var err error

	c.ChannelAgent = m.String("channelAgent", "")
	c.ChannelDispatcher = m.String("channelDispatcher", "")
	c.ChannelCollector = m.String("channelCollector", "")
	if c.ChannelAgent == "" || c.ChannelDispatcher == "" || c.ChannelCollector == "" {
		return ClientConfig{}, fmt.Errorf("%w: channelAgent, channelDispatcher, and channelCollector are required", dnxerr.ErrInvalid)
	}
	c.PluginPath = m.String("pluginPath", "")

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"poolMin", &c.PoolMin, 1},
		{"poolInitial", &c.PoolInitial, 2},
		{"poolMax", &c.PoolMax, 10},
		{"poolIncrement", &c.PoolIncrement, 1},
		{"pollIntervalSecs", &c.PollIntervalSecs, 5},
		{"shutdownGraceSecs", &c.ShutdownGraceSecs, 10},
		{"requestTimeoutSecs", &c.RequestTimeoutSecs, 30},
		{"ttlBackoffSecs", &c.TTLBackoffSecs, 5},
		{"maxConsecutiveTimeouts", &c.MaxConsecutiveTimeouts, 5},
		{"debug", &c.Debug, 0},
	}
	for _, f := range ints {
		if *f.dst, err = m.Int(f.key, f.def); err != nil {
			return ClientConfig{}, err
		}
	}
	c.LogFacility = m.String("logFacility", "")

	if !(c.PoolMin <= c.PoolInitial && c.PoolInitial <= c.PoolMax) {
		return ClientConfig{}, fmt.Errorf("%w: require poolMin <= poolInitial <= poolMax", dnxerr.ErrInvalid)
	}
	if !(c.RequestTimeoutSecs > c.TTLBackoffSecs && c.TTLBackoffSecs >= 1) {
		return ClientConfig{}, fmt.Errorf("%w: require requestTimeoutSecs > ttlBackoffSecs >= 1", dnxerr.ErrInvalid)
	}
	return c, nil
}
