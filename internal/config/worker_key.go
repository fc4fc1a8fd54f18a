package config

type WorkerKeyStruct struct {
	ArchiveSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ArchiveSubmissionsQueue: "archive_submissions_queue",
}
