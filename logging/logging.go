package logging

import (
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	FieldService  = "service"
	FieldWidgetID = "widgetId"
	FieldPath     = "path"
	FieldJob      = "job"
)

// ServiceFormatter is a Formatter that:
// 1. logs the unix time in milliseconds;
// 2. logs the service name.
type ServiceFormatter struct {
	svcName string
	log.Formatter
}

func (f *ServiceFormatter) Format(e *log.Entry) ([]byte, error) {
	e.Data["epochTimeMillis"] = e.Time.UnixNano() / int64(time.Millisecond)
	e.Data[FieldService] = f.svcName
	return f.Formatter.Format(e)
}

// SetupLog configures the standard logrus logger for the named service.
func SetupLog(name string, verbose bool) {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&ServiceFormatter{
		svcName:   name,
		Formatter: &log.JSONFormatter{DisableTimestamp: true},
	})
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// Discard returns an entry that drops everything. Library types use it
// until a logger is injected.
func Discard() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}
