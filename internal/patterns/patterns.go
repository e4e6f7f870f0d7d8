// Package patterns holds the read-only classification tables shared by every
// scan in a process: the module capability table and the compiled lexical
// matchers.
package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

// Capability is the behaviour implied by referencing a module.
type Capability int

const (
	CapNone Capability = iota
	CapBase64
	CapProcessSpawn
	CapFilesystem
	CapNetwork
	CapDomain
	CapCryptoZip
)

func (c Capability) String() string {
	switch c {
	case CapBase64:
		return "base64-conversion"
	case CapProcessSpawn:
		return "process-spawn"
	case CapFilesystem:
		return "filesystem"
	case CapNetwork:
		return "network"
	case CapDomain:
		return "domain"
	case CapCryptoZip:
		return "crypto-zip"
	default:
		return "none"
	}
}

// Flag returns the general feature flag raised by the capability.
func (c Capability) Flag() (features.Flag, bool) {
	switch c {
	case CapBase64:
		return features.UseBase64Conversion, true
	case CapProcessSpawn:
		return features.RequireChildProcessInJSFile, true
	case CapFilesystem:
		return features.AccessFSInJSFile, true
	case CapNetwork:
		return features.AccessNetworkInJSFile, true
	case CapDomain:
		return features.ContainDomainInJSFile, true
	case CapCryptoZip:
		return features.AccessCryptoAndZip, true
	default:
		return 0, false
	}
}

// CapabilityTable maps module specifiers to capabilities.
type CapabilityTable struct {
	m map[string]Capability
}

var defaultModules = map[Capability][]string{
	CapBase64:       {"base64-js"},
	CapProcessSpawn: {"child_process"},
	CapFilesystem:   {"fs", "fs/promises", "path", "promise-fs"},
	CapNetwork:      {"http", "https", "nodemailer", "axios", "request", "node-fetch", "got"},
	CapDomain:       {"dns"},
	CapCryptoZip:    {"crypto", "zlib"},
}

// NewCapabilityTable builds a table from capability to module names.
func NewCapabilityTable(modules map[Capability][]string) CapabilityTable {
	m := make(map[string]Capability)
	for c, names := range modules {
		for _, n := range names {
			m[n] = c
		}
	}
	return CapabilityTable{m: m}
}

// Lookup classifies a require argument or import source. Names match
// exactly; "node:fs" and subpaths other than the listed ones are CapNone.
func (t CapabilityTable) Lookup(spec string) Capability {
	return t.m[spec]
}

// DefaultSensitiveKeywords are substrings that mark credential or shell
// access.
var DefaultSensitiveKeywords = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/etc/hosts",
	".ssh/",
	"id_rsa",
	"authorized_keys",
	".npmrc",
	".bash_history",
	".zsh_history",
	".bashrc",
	".aws/credentials",
	".docker/config",
	".kube/config",
	".git-credentials",
	"/bin/sh",
	"/bin/bash",
	"cmd.exe",
	"powershell",
	"wallet.dat",
	"Local State",
	"Login Data",
}

// DefaultNetworkCommands are executables that reach the network when run
// from a lifecycle hook.
var DefaultNetworkCommands = []string{
	"curl",
	"wget",
	"nc",
	"ncat",
	"netcat",
	"telnet",
	"ssh",
	"scp",
	"sftp",
	"ftp",
	"rsync",
	"nslookup",
	"dig",
	"ping",
	"Invoke-WebRequest",
	"Invoke-RestMethod",
	"iwr",
	"certutil",
	"bitsadmin",
}

// tlds leaves out suffixes that collide with file extensions (js, sh, py,
// md, ts) or common property names (info, top, app, dev, me).
var tlds = []string{
	"com", "net", "org", "io", "co", "biz", "xyz", "pw", "tk", "ml", "ga",
	"cf", "gq", "ru", "cn", "su", "ir", "kp", "de", "uk", "fr", "jp", "kr",
	"br", "nl", "eu", "ca", "au", "cc", "tv", "ws", "onion", "gov", "edu",
}

var (
	ipPattern = regexp.MustCompile(
		`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)
	domainPattern = regexp.MustCompile(
		`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+(?:` + strings.Join(tlds, "|") + `)\b`)
	base64Pattern = regexp.MustCompile(
		`^(?:[A-Za-z0-9+/]{4}){5,}(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?$`)
	bytestringPattern = regexp.MustCompile(`((?:\\x[0-9A-Fa-f]{2}){4,})`)
)

// Options configures the configurable parts of the matcher set.
type Options struct {
	// SensitiveKeywords replaces DefaultSensitiveKeywords when non-empty.
	SensitiveKeywords []string
	// NetworkCommands replaces DefaultNetworkCommands when non-empty.
	NetworkCommands []string
}

// Tables is the immutable pattern set used by the detectors.
type Tables struct {
	Capabilities CapabilityTable

	ip             *regexp.Regexp
	domain         *regexp.Regexp
	base64         *regexp.Regexp
	bytestring     *regexp.Regexp
	networkCommand *regexp.Regexp
	sensitive      *regexp.Regexp
}

// ErrEmptyKeyword is returned when a configured keyword or command is blank.
var ErrEmptyKeyword = errors.New("patterns: empty keyword")

// Compile builds a pattern set.
func Compile(opts Options) (*Tables, error) {
	keywords := opts.SensitiveKeywords
	if len(keywords) == 0 {
		keywords = DefaultSensitiveKeywords
	}
	commands := opts.NetworkCommands
	if len(commands) == 0 {
		commands = DefaultNetworkCommands
	}

	sensitive, err := alternation(keywords)
	if err != nil {
		return nil, fmt.Errorf("sensitive keywords: %w", err)
	}
	cmds, err := alternation(commands)
	if err != nil {
		return nil, fmt.Errorf("network commands: %w", err)
	}

	return &Tables{
		Capabilities:   NewCapabilityTable(defaultModules),
		ip:             ipPattern,
		domain:         domainPattern,
		base64:         base64Pattern,
		bytestring:     bytestringPattern,
		sensitive:      regexp.MustCompile(`(?i)` + sensitive),
		networkCommand: regexp.MustCompile(`(?i)(?:^|[\s;&|(` + "`" + `'"])(?:` + cmds + `)(?:\.exe)?(?:$|[\s;&|)` + "`" + `'"])`),
	}, nil
}

func alternation(words []string) (string, error) {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			return "", ErrEmptyKeyword
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	return strings.Join(quoted, "|"), nil
}

var (
	defaultOnce   sync.Once
	defaultTables *Tables
)

// Default returns the process-wide pattern set built from the defaults.
func Default() *Tables {
	defaultOnce.Do(func() {
		t, err := Compile(Options{})
		if err != nil {
			panic(err)
		}
		defaultTables = t
	})
	return defaultTables
}

// ContainsIP reports whether s contains an IPv4 address.
func (t *Tables) ContainsIP(s string) bool { return t.ip.MatchString(s) }

// ContainsDomain reports whether s contains a domain name.
func (t *Tables) ContainsDomain(s string) bool { return t.domain.MatchString(s) }

// ContainsSensitive reports whether s contains a sensitive keyword.
func (t *Tables) ContainsSensitive(s string) bool { return t.sensitive.MatchString(s) }

// ContainsNetworkCommand reports whether s invokes a network command.
func (t *Tables) ContainsNetworkCommand(s string) bool { return t.networkCommand.MatchString(s) }

// IsBase64 reports whether the whole of s looks like base64 content: at
// least 20 characters of the base64 alphabet mixing upper case, lower case
// and a digit or symbol.
func (t *Tables) IsBase64(s string) bool {
	if !t.base64.MatchString(s) {
		return false
	}
	var upper, lower, other bool
	for _, r := range strings.TrimRight(s, "=") {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		default:
			other = true
		}
	}
	return upper && lower && other
}

// FindBytestring returns the first run of escaped hex bytes in src.
func (t *Tables) FindBytestring(src string) (string, bool) {
	m := t.bytestring.FindStringSubmatch(src)
	if m == nil {
		return "", false
	}
	return m[1], true
}
