package meta

const (
	// ProtocolVersion is the highest request/reply protocol revision
	// this client speaks.
	ProtocolVersion    = 2
	ProtocolMinVersion = 1

	// ConfigFormatVersion is the configuration blob layout revision.
	ConfigFormatVersion    = 1
	ConfigFormatMinVersion = 1
)

// Following variables are filled in at build time.
var (
	Version   string
	GitCommit string
	BuildDate string
)

type VersionOutput struct {
	Version   string
	GitCommit string
	BuildDate string

	ProtocolVersion        int
	ProtocolMinVersion     int
	ConfigFormatVersion    int
	ConfigFormatMinVersion int
}

func GetVersion() *VersionOutput {
	return &VersionOutput{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,

		ProtocolVersion:        ProtocolVersion,
		ProtocolMinVersion:     ProtocolMinVersion,
		ConfigFormatVersion:    ConfigFormatVersion,
		ConfigFormatMinVersion: ConfigFormatMinVersion,
	}
}
