package errors

type ExitCode int

const (
	// The job ran but at least one slot completed with a non-zero exit status.
	JobFailedExitCode ExitCode = 1

	// Bad flags, both or neither of -n/-N, missing local files.
	UsageExitCode ExitCode = 64

	// The launcher subprocess violated its output protocol.
	ProtocolExitCode ExitCode = 65

	// The allocator rejected a call or could not be reached.
	AllocatorExitCode ExitCode = 69

	// Internal failure, ex: unable to start a subprocess.
	SoftwareExitCode ExitCode = 70

	// Reading or writing the durable filesystem failed.
	IOExitCode ExitCode = 74
)
