package telemetry

import (
	"context"
	"sync"
)

var testEnvironments = map[string]struct{}{}
var testEnvironmentsLock sync.Mutex

// SetupForTesting enables verbose logging and the telemetry.json5 exporters
// (if any) for a test binary, the returned function flushes them.
func SetupForTesting(serviceName string) func() {
	testEnvironmentsLock.Lock()
	defer testEnvironmentsLock.Unlock()

	_, setupAlready := testEnvironments[serviceName]
	if setupAlready {
		return func() {}
	}
	testEnvironments[serviceName] = struct{}{}

	InitSlog(true)
	tel, err := SetupFromEnv(context.Background(), serviceName)
	if err != nil {
		panic(err)
	}

	return func() {
		err = tel.Shutdown(context.Background())
		if err != nil {
			panic(err)
		}
	}
}
