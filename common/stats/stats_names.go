package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Placement metrics **************************/
	/*
		number of slot requests issued to the allocator
	*/
	PlacementSlotsRequestedCounter = "slotsRequestedCounter"

	/*
		number of slots handed to us by the allocator, accepted or not
	*/
	PlacementSlotsAllocatedCounter = "slotsAllocatedCounter"

	/*
		number of slots released back to the allocator as redundant
	*/
	PlacementSlotsReleasedCounter = "slotsReleasedCounter"

	/*
		number of allocator polls that returned no slots
	*/
	PlacementEmptyPollCounter = "emptyPollCounter"

	/*
		time from the first request until the topology is satisfied
	*/
	PlacementAcquireLatency_ms = "acquireLatency_ms"

	/*
		number of hosts in the last acquired host group
	*/
	PlacementHostsGauge = "hosts"

	/************************* Launcher metrics **************************/
	/*
		time spent starting the launcher subprocess and parsing its commands
	*/
	LauncherStartLatency_ms = "startLatency_ms"

	/*
		number of daemon commands parsed from launcher output
	*/
	LauncherCommandsParsedCounter = "commandsParsedCounter"

	/************************* Dispatch metrics **************************/
	/*
		number of start calls made to node agents
	*/
	DispatchStartedCounter = "startedCounter"

	/*
		number of start calls that returned an error
	*/
	DispatchErrCounter = "errCounter"

	/************************* Relay metrics **************************/
	/*
		number of slot completions observed (after de-duplication)
	*/
	RelayCompletedCounter = "completedCounter"

	/*
		number of slot completions with a non-zero exit status
	*/
	RelayFailedCounter = "failedCounter"

	/*
		number of repeated completion events for an already completed slot
	*/
	RelayDuplicateCompletionCounter = "duplicateCompletionCounter"

	/*
		bytes copied from the launcher's stdout and stderr into the output sink
	*/
	RelayBytesCounter = "bytesCounter"

	/*
		number of polling iterations of the relay loop
	*/
	RelayPollCounter = "pollCounter"

	/*
		number of dispatched slots not yet completed
	*/
	RelayInflightGauge = "inflight"

	/************************* Staging metrics **************************/
	/*
		number of files uploaded to the durable filesystem by submit
	*/
	StageFilesCounter = "filesCounter"

	/*
		time spent staging all files
	*/
	StageLatency_ms = "latency_ms"

	/************************* Durable filesystem server metrics **************************/
	/*
		number of append, put and read requests served
	*/
	DFSRequestCounter = "requestCounter"

	/*
		number of requests that failed
	*/
	DFSRequestErrCounter = "requestErrCounter"
)
