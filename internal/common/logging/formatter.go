package logging

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
)

// CommandLineFormatter prints the bare message for fleetctl users, followed by the campaign and scenario it is
// about and the error, when the entry carries them. Warnings and errors are prefixed by their level.
type CommandLineFormatter struct{}

// Fields printed after the message, in this order.
var commandLineFields = []string{fleetcontext.CampaignField, fleetcontext.ScenarioField, log.ErrorKey}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b bytes.Buffer
	if entry.Level <= log.WarnLevel {
		fmt.Fprintf(&b, "%s: ", entry.Level)
	}
	b.WriteString(entry.Message)
	for _, field := range commandLineFields {
		if value, ok := entry.Data[field]; ok {
			fmt.Fprintf(&b, " %s=%v", field, value)
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
