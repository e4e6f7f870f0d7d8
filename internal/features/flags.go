package features

import "fmt"

// Flag identifies one boolean feature of a package.
type Flag int

const (
	HasInstallScripts Flag = iota
	ContainIP
	UseBase64Conversion
	UseBase64ConversionInInstallScript
	ContainBase64StringInJSFile
	ContainBase64StringInInstallScript
	ContainBytestring
	ContainDomainInJSFile
	ContainDomainInInstallScript
	UseBuffer
	UseEval
	RequireChildProcessInJSFile
	RequireChildProcessInInstallScript
	AccessFSInJSFile
	AccessFSInInstallScript
	AccessNetworkInJSFile
	AccessNetworkInInstallScript
	AccessProcessEnvInJSFile
	AccessProcessEnvInInstallScript
	ContainSuspiciousString
	AccessCryptoAndZip
	AccessSensitiveAPI

	numFlags
)

// flagInfo describes how a flag is named on the wire.
//
// key is the record/position document key, column is the name used in the
// feature CSV consumed by the classifier. The two differ for historical
// reasons and the column spellings must not be corrected.
type flagInfo struct {
	key     string
	column  string
	variant Flag
	general Flag
}

const noFlag Flag = -1

var flagTable = [numFlags]flagInfo{
	HasInstallScripts:                  {"hasInstallScripts", "hasInstallScript", noFlag, noFlag},
	ContainIP:                          {"containIP", "containIP", noFlag, noFlag},
	UseBase64Conversion:                {"useBase64Conversion", "useBase64Conversion", UseBase64ConversionInInstallScript, noFlag},
	UseBase64ConversionInInstallScript: {"useBase64ConversionInInstallScript", "useBase64ConversionInInstallScript", noFlag, UseBase64Conversion},
	ContainBase64StringInJSFile:        {"containBase64StringInJSFile", "containBase64StringInJSFile", ContainBase64StringInInstallScript, noFlag},
	ContainBase64StringInInstallScript: {"containBase64StringInInstallScript", "containBase64StringInInstallScript", noFlag, ContainBase64StringInJSFile},
	ContainBytestring:                  {"containBytestring", "containBytestring", noFlag, noFlag},
	ContainDomainInJSFile:              {"containDomainInJSFile", "containDomainInJSFile", ContainDomainInInstallScript, noFlag},
	ContainDomainInInstallScript:       {"containDomainInInstallScript", "containDomainInInstallScript", noFlag, ContainDomainInJSFile},
	UseBuffer:                          {"useBuffer", "useBuffer", noFlag, noFlag},
	UseEval:                            {"useEval", "useEval", noFlag, noFlag},
	RequireChildProcessInJSFile:        {"requireChildProcessInJSFile", "requireChildProcessInJSFile", RequireChildProcessInInstallScript, noFlag},
	RequireChildProcessInInstallScript: {"requireChildProcessInInstallScript", "requireChildProcessInInstallScript", noFlag, RequireChildProcessInJSFile},
	AccessFSInJSFile:                   {"accessFSInJSFile", "accessFSInJSFile", AccessFSInInstallScript, noFlag},
	AccessFSInInstallScript:            {"accessFSInInstallScript", "accessFSInInstallScript", noFlag, AccessFSInJSFile},
	AccessNetworkInJSFile:              {"accessNetworkInJSFile", "accessNetworkInJSFile", AccessNetworkInInstallScript, noFlag},
	AccessNetworkInInstallScript:       {"accessNetworkInInstallScript", "accessNetworkInInstallScript", noFlag, AccessNetworkInJSFile},
	AccessProcessEnvInJSFile:           {"accessProcessEnvInJSFile", "accessProcessEnvInJSFile", AccessProcessEnvInInstallScript, noFlag},
	AccessProcessEnvInInstallScript:    {"accessProcessEnvInInstallScript", "accessProcessEnvInInstallScript", noFlag, AccessProcessEnvInJSFile},
	ContainSuspiciousString:            {"containSuspiciousString", "containSuspicousString", noFlag, noFlag},
	AccessCryptoAndZip:                 {"accessCryptoAndZip", "accessCryptoAndZip", noFlag, noFlag},
	AccessSensitiveAPI:                 {"accessSensitiveAPI", "accessSensitiveAPI", noFlag, noFlag},
}

// csvOrder is the column order the classifier was trained on.
var csvOrder = []Flag{
	HasInstallScripts,
	ContainIP,
	UseBase64Conversion,
	UseBase64ConversionInInstallScript,
	ContainBase64StringInJSFile,
	ContainBase64StringInInstallScript,
	ContainBytestring,
	ContainDomainInJSFile,
	ContainDomainInInstallScript,
	UseBuffer,
	UseEval,
	RequireChildProcessInJSFile,
	RequireChildProcessInInstallScript,
	AccessFSInJSFile,
	AccessFSInInstallScript,
	AccessNetworkInJSFile,
	AccessNetworkInInstallScript,
	AccessProcessEnvInJSFile,
	AccessProcessEnvInInstallScript,
	ContainSuspiciousString,
	AccessCryptoAndZip,
	AccessSensitiveAPI,
}

// AllFlags returns every flag in declaration order.
func AllFlags() []Flag {
	flags := make([]Flag, numFlags)
	for i := range flags {
		flags[i] = Flag(i)
	}
	return flags
}

// CSVFlags returns the flags in feature-CSV column order.
func CSVFlags() []Flag {
	return append([]Flag(nil), csvOrder...)
}

func (f Flag) valid() bool { return f >= 0 && f < numFlags }

// Key returns the record key of the flag, e.g. "useEval".
func (f Flag) Key() string {
	if !f.valid() {
		return fmt.Sprintf("Flag(%d)", int(f))
	}
	return flagTable[f].key
}

func (f Flag) String() string { return f.Key() }

// Column returns the feature-CSV column name of the flag.
func (f Flag) Column() string {
	if !f.valid() {
		return f.Key()
	}
	return flagTable[f].column
}

// InstallVariant returns the "...InInstallScript" counterpart of a general flag.
func (f Flag) InstallVariant() (Flag, bool) {
	if !f.valid() || flagTable[f].variant == noFlag {
		return noFlag, false
	}
	return flagTable[f].variant, true
}

// General returns the general counterpart of an install-script variant.
func (f Flag) General() (Flag, bool) {
	if !f.valid() || flagTable[f].general == noFlag {
		return noFlag, false
	}
	return flagTable[f].general, true
}

// ParseFlag resolves a record key or CSV column name to its flag.
func ParseFlag(name string) (Flag, error) {
	for i, info := range flagTable {
		if info.key == name || info.column == name {
			return Flag(i), nil
		}
	}
	return noFlag, fmt.Errorf("unknown feature %q", name)
}
