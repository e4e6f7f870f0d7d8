package registry

// PackageMetadata is the registry document of a package, trimmed to what
// is needed to locate a version's tarball.
type PackageMetadata struct {
	Name     string                    `json:"name"`
	DistTags map[string]string         `json:"dist-tags"`
	Versions map[string]PackageVersion `json:"versions"`
}

// PackageVersion represents a specific version of a package.
type PackageVersion struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Scripts map[string]string `json:"scripts"`
	Dist    Dist              `json:"dist"`
}

// Dist contains distribution info for a package version.
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity"`
}
