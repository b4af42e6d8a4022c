package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &LineReporter{Out: &buf, Description: "maintenance"}
	r.Start(2)
	r.Update(1, "memory.compress")
	r.Update(2, "memory.prune")
	r.Finish()
	assert.Equal(t, "maintenance: 2 steps\n[1/2] memory.compress\n[2/2] memory.prune\nmaintenance: done\n", buf.String())
}

func TestNewReporterInCI(t *testing.T) {
	t.Setenv("CI", "true")
	_, ok := NewReporter("x").(*LineReporter)
	assert.True(t, ok)
}
