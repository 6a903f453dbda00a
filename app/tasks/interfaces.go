package tasks

// TaskSchedulerInterface is used by the main application to run background work.
//
//	scheduler := NewScheduler(feedRepo, engine, configCache, SchedulerOptions{WorkerCount: 5})
//	scheduler.Every(time.Minute, func() TaskInterface { return NewSweepSummariesTask(worker) })
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
