package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/KevinKickass/OpenRigCore/internal/machine"
)

type fakeRig struct {
	commands []machine.Command
	err      error
}

func (f *fakeRig) ExecuteCommand(_ context.Context, cmd machine.Command) error {
	f.commands = append(f.commands, cmd)
	return f.err
}

func (f *fakeRig) GetStatus() machine.RigStatus {
	return machine.RigStatus{Phase: machine.PhaseRunning, State: "wait_for_fill", Steps: 3}
}

func TestWatchInputDispatchesCommands(t *testing.T) {
	rig := &fakeRig{}
	var out bytes.Buffer
	quits := 0

	in := strings.NewReader("fill\n\nstatus\nbogus\nq\nstop\n")
	watchInput(context.Background(), in, &out, rig, func() { quits++ })

	assert.Equal(t, []machine.Command{machine.CommandFill}, rig.commands)
	assert.Equal(t, 1, quits)
	assert.Contains(t, out.String(), "ok: fill")
	assert.Contains(t, out.String(), "phase=running state=wait_for_fill")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
}

func TestWatchInputReportsCommandErrors(t *testing.T) {
	rig := &fakeRig{err: errors.New("cannot fill: rig not running")}
	var out bytes.Buffer
	quits := 0

	watchInput(context.Background(), strings.NewReader("FILL\n"), &out, rig, func() { quits++ })

	assert.Contains(t, out.String(), "error: cannot fill")
	assert.Equal(t, 0, quits)
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"rigctl"}, args...))
	return out.String(), err
}

func TestSelfTestCommandWithSimulator(t *testing.T) {
	out, err := runApp(t, "--sim", "selftest")
	require.NoError(t, err)
	assert.Contains(t, out, "all 9 peripherals passed")
}

func TestReadCommandWithSimulator(t *testing.T) {
	out, err := runApp(t, "--sim", "read", "feed_valve")
	require.NoError(t, err)
	assert.Equal(t, "feed_valve\tservo\t0\n", out)

	_, err = runApp(t, "--sim", "read")
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 2, exit.ExitCode())

	_, err = runApp(t, "--sim", "read", "nope")
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.ExitCode())
}

func TestModbusWildcardDeviceNotFound(t *testing.T) {
	_, err := runApp(t, "selftest")
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.ExitCode())
}
