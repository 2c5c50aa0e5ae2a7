package openocd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rstlink/rst/internal/session"
	"github.com/rstlink/rst/internal/target"
)

// fakeTcl is a loopback Tcl RPC server. handle receives the unwrapped
// command and returns the catch code and result.
type fakeTcl struct {
	ln     net.Listener
	handle func(cmd string) (int, string)

	mu       sync.Mutex
	commands []string
}

func newFakeTcl(t *testing.T, handle func(cmd string) (int, string)) *fakeTcl {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeTcl{ln: ln, handle: handle}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeTcl) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			r := bufio.NewReader(conn)
			for {
				msg, err := r.ReadString(terminator)
				if err != nil {
					return
				}
				msg = strings.TrimSuffix(msg, "\x1a")
				cmd := strings.TrimSuffix(strings.TrimPrefix(msg, "concat [catch {"), "} _rst_res] $_rst_res")

				f.mu.Lock()
				f.commands = append(f.commands, cmd)
				f.mu.Unlock()

				if f.handle == nil {
					continue
				}
				code, result := f.handle(cmd)
				reply := strings.TrimSpace(strings.Join([]string{strconv.Itoa(code), result}, " "))
				if _, err := conn.Write(append([]byte(reply), terminator)); err != nil {
					return
				}
			}
		}(conn)
	}
}

func (f *fakeTcl) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeTcl) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(context.Background(), f.ln.Addr().String(), zap.NewNop())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Path != "openocd" {
		t.Errorf("Path = %q", c.Path)
	}
	if c.Interface != "interface/stlink.cfg" {
		t.Errorf("Interface = %q", c.Interface)
	}
	if c.StartupTimeout != 30*time.Second {
		t.Errorf("StartupTimeout = %s", c.StartupTimeout)
	}
	if c.WorkDir != os.TempDir() {
		t.Errorf("WorkDir = %q", c.WorkDir)
	}

	filled := Config{Path: "/opt/openocd/bin/openocd"}.withDefaults()
	if filled.Path != "/opt/openocd/bin/openocd" || filled.Interface != c.Interface {
		t.Errorf("withDefaults() = %+v", filled)
	}
}

func TestRenderSessionConfig(t *testing.T) {
	got, err := renderSessionConfig(sessionParams{
		ScriptDirs:   []string{"/usr/local/share/openocd/scripts"},
		Interface:    "interface/stlink.cfg",
		Serial:       "0669FF485550755187121723",
		TargetConfig: "target/stm32f4x.cfg",
		TclPort:      46123,
	})
	if err != nil {
		t.Fatalf("renderSessionConfig() error = %v", err)
	}

	for _, line := range []string{
		`add_script_search_dir "/usr/local/share/openocd/scripts"`,
		`source [find "interface/stlink.cfg"]`,
		`adapter serial "0669FF485550755187121723"`,
		`source [find "target/stm32f4x.cfg"]`,
		"tcl_port 46123",
		"gdb_port disabled",
		"telnet_port disabled",
		"init",
	} {
		if !strings.Contains(got, line+"\n") {
			t.Errorf("config missing %q:\n%s", line, got)
		}
	}
	if strings.Index(got, "stlink.cfg") > strings.Index(got, "adapter serial") {
		t.Error("adapter serial must follow the interface script")
	}

	noSerial, _ := renderSessionConfig(sessionParams{Interface: "interface/stlink.cfg", TargetConfig: "target/stm32f1x.cfg", TclPort: 1})
	if strings.Contains(noSerial, "adapter serial") {
		t.Errorf("serial line rendered without a serial:\n%s", noSerial)
	}
}

func TestRenderSessionConfigQuotesSerial(t *testing.T) {
	got, err := renderSessionConfig(sessionParams{
		ScriptDirs:   []string{"/home/me/open ocd"},
		Interface:    "interface/stlink.cfg",
		Serial:       "A\"B$x[exit]{}\\\nC",
		TargetConfig: "target/stm32f4x.cfg",
		TclPort:      1,
	})
	if err != nil {
		t.Fatalf("renderSessionConfig() error = %v", err)
	}
	for _, line := range []string{
		`add_script_search_dir "/home/me/open ocd"`,
		`adapter serial "A\"B\$x\[exit\]\{\}\\\nC"`,
	} {
		if !strings.Contains(got, line+"\n") {
			t.Errorf("config missing %q:\n%s", line, got)
		}
	}
}

func TestTclQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", `""`},
		{"066DFF535254887767184844", `"066DFF535254887767184844"`},
		{`a"b`, `"a\"b"`},
		{"$env(HOME)", `"\$env(HOME)"`},
		{"[shutdown]", `"\[shutdown\]"`},
		{"\x01\n", "\"\x01\\n\""},
	}
	for _, tt := range tests {
		if got := tclQuote(tt.in); got != tt.want {
			t.Errorf("tclQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestClientExec(t *testing.T) {
	f := newFakeTcl(t, func(cmd string) (int, string) {
		switch cmd {
		case "target names":
			return 0, "stm32f4x.cpu"
		case "flash probe 9":
			return 1, "flash bank '9' not found"
		}
		return 0, ""
	})
	c := f.dial(t)
	ctx := context.Background()

	got, err := c.Exec(ctx, "target names")
	if err != nil || got != "stm32f4x.cpu" {
		t.Errorf("Exec(target names) = %q, %v", got, err)
	}

	_, err = c.Exec(ctx, "flash probe 9")
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if ce.Code != 1 || !strings.Contains(ce.Message, "not found") {
		t.Errorf("CommandError = %+v", ce)
	}
}

func TestSplitReply(t *testing.T) {
	tests := []struct {
		in     string
		code   int
		result string
		ok     bool
	}{
		{"0 0x20001000 0x08000101", 0, "0x20001000 0x08000101", true},
		{"0", 0, "", true},
		{"1 Error: timed out", 1, "Error: timed out", true},
		{"  0 spaced  ", 0, "spaced", true},
		{"Error: no catch", 0, "", false},
	}
	for _, tt := range tests {
		code, result, ok := splitReply(tt.in)
		if ok != tt.ok || (ok && (code != tt.code || result != tt.result)) {
			t.Errorf("splitReply(%q) = %d %q %v", tt.in, code, result, ok)
		}
	}
}

func TestClientExecTimeout(t *testing.T) {
	f := newFakeTcl(t, nil)
	c := f.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.Exec(ctx, "sleep 100000"); err == nil {
		t.Fatal("expected error from unanswered command")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Exec did not honour the context deadline")
	}
}

func TestParseWords(t *testing.T) {
	got, err := parseWords("0x20001000 0x80001c1 0x0 0xffffffff", 4)
	if err != nil {
		t.Fatalf("parseWords() error = %v", err)
	}
	want := []uint32{0x20001000, 0x080001c1, 0, 0xffffffff}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseWords() = %#x", got)
	}
	if _, err := parseWords("0x1 0x2", 3); err == nil {
		t.Error("expected count mismatch error")
	}
	if _, err := parseWords("0x1 zz", 2); err == nil {
		t.Error("expected parse error")
	}
}

// linkFixture wires a link to a fake server that answers the commands
// a flash session issues.
func linkFixture(t *testing.T, tgt *target.Target, banks string) (*link, *fakeTcl) {
	t.Helper()
	f := newFakeTcl(t, func(cmd string) (int, string) {
		switch {
		case cmd == "llength [flash list]":
			return 0, banks
		case strings.Contains(cmd, "read_memory"):
			return 0, "0x20001000 0x80001c1"
		case strings.HasPrefix(cmd, "flash write_image"):
			// the staged file must still exist while OpenOCD reads it
			path := cmd[strings.Index(cmd, "{")+1 : strings.Index(cmd, "}")]
			if _, err := os.Stat(path); err != nil {
				return 1, "couldn't open " + path
			}
			return 0, "wrote 4 bytes from file " + path
		}
		return 0, ""
	})
	l := newLink(f.dial(t), tgt, []string{"stm32h7x.cpu0", "stm32h7x.cpu1"}, t.TempDir(), zap.NewNop())
	return l, f
}

func TestLinkCoreOperations(t *testing.T) {
	l, f := linkFixture(t, &target.Target{Name: "stm32h7"}, "1")
	ctx := context.Background()

	if err := l.Reset(ctx, 1); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	out := make([]uint32, 2)
	if err := l.ReadMemory32(ctx, 0, 0x08000000, out); err != nil {
		t.Fatalf("ReadMemory32() error = %v", err)
	}
	if out[0] != 0x20001000 || out[1] != 0x080001c1 {
		t.Errorf("words = %#x", out)
	}
	if err := l.Reset(ctx, 2); err == nil {
		t.Error("expected error for missing core")
	}

	want := []string{
		"targets stm32h7x.cpu1",
		"reset run",
		"stm32h7x.cpu0 read_memory 0x8000000 32 2",
	}
	if got := f.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestLinkEraseAll(t *testing.T) {
	t.Run("mass erase per bank", func(t *testing.T) {
		l, f := linkFixture(t, &target.Target{Name: "stm32h7", MassErase: "stm32h7x mass_erase {bank}"}, "2")
		if err := l.EraseAll(context.Background()); err != nil {
			t.Fatalf("EraseAll() error = %v", err)
		}
		want := []string{"llength [flash list]", "stm32h7x mass_erase 0", "stm32h7x mass_erase 1"}
		if got := f.Commands(); !reflect.DeepEqual(got, want) {
			t.Errorf("commands = %q", got)
		}
	})

	t.Run("sector erase fallback", func(t *testing.T) {
		l, f := linkFixture(t, &target.Target{Name: "stm32l0"}, "1")
		if err := l.EraseAll(context.Background()); err != nil {
			t.Fatalf("EraseAll() error = %v", err)
		}
		want := []string{"llength [flash list]", "flash erase_sector 0 0 last"}
		if got := f.Commands(); !reflect.DeepEqual(got, want) {
			t.Errorf("commands = %q", got)
		}
	})

	t.Run("no banks", func(t *testing.T) {
		l, _ := linkFixture(t, &target.Target{Name: "stm32l0"}, "0")
		if err := l.EraseAll(context.Background()); err == nil {
			t.Error("expected error without flash banks")
		}
	})
}

func TestLinkDownload(t *testing.T) {
	l, f := linkFixture(t, &target.Target{Name: "stm32f4"}, "1")
	ctx := context.Background()

	if err := l.Halt(ctx); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}
	if err := l.EraseRange(ctx, 0x08000000, 0x4000); err != nil {
		t.Fatalf("EraseRange() error = %v", err)
	}
	staged, err := l.Stage(ctx, session.Block{Address: 0x08000000, Data: []byte{1, 2, 3, 4}})
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	data, err := os.ReadFile(staged.Token)
	if err != nil || !reflect.DeepEqual(data, []byte{1, 2, 3, 4}) {
		t.Fatalf("staged file = %x, %v", data, err)
	}
	if err := l.Program(ctx, staged); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	if _, err := os.Stat(staged.Token); !os.IsNotExist(err) {
		t.Error("staged file not removed after programming")
	}
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cmds := f.Commands()
	want := []string{
		"reset halt",
		"flash erase_address pad 0x8000000 0x4000",
		"flash write_image {" + staged.Token + "} 0x8000000 bin",
		"reset run",
	}
	if !reflect.DeepEqual(cmds, want) {
		t.Errorf("commands = %q\nwant %q", cmds, want)
	}
}

func TestLinkCloseRemovesStagedFiles(t *testing.T) {
	l, _ := linkFixture(t, &target.Target{Name: "stm32f4"}, "1")

	staged, err := l.Stage(context.Background(), session.Block{Address: 0x08000000, Data: []byte{0xff}})
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(staged.Token); !os.IsNotExist(err) {
		t.Error("unprogrammed staged file left behind")
	}
}

// writeScript creates an executable shell script standing in for openocd.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "openocd")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestBackendOpenProcessExits(t *testing.T) {
	path := writeScript(t, `echo "Open On-Chip Debugger 0.12.0" >&2
echo "Error: open failed" >&2
exit 1`)
	workDir := t.TempDir()
	b := NewBackend(Config{Path: path, WorkDir: workDir, StartupTimeout: 10 * time.Second}, zap.NewNop())

	_, err := b.Open(context.Background(), session.OpenRequest{
		Target: &target.Target{Name: "stm32f4", Config: "target/stm32f4x.cfg"},
	})
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %T: %v", err, err)
	}
	if ee.ExitCode != 1 || !strings.Contains(ee.Error(), "Error: open failed") {
		t.Errorf("ExecutionError = %v", ee)
	}

	left, _ := filepath.Glob(filepath.Join(workDir, "rst-openocd-*.cfg"))
	if len(left) != 0 {
		t.Errorf("config files left behind: %v", left)
	}
}

func TestBackendOpenStartupTimeout(t *testing.T) {
	path := writeScript(t, `exec sleep 30`)
	b := NewBackend(Config{Path: path, WorkDir: t.TempDir(), StartupTimeout: 300 * time.Millisecond}, zap.NewNop())

	_, err := b.Open(context.Background(), session.OpenRequest{
		Target: &target.Target{Name: "stm32f4", Config: "target/stm32f4x.cfg"},
	})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
}

func TestBackendOpenMissingBinary(t *testing.T) {
	b := NewBackend(Config{Path: filepath.Join(t.TempDir(), "no-such-openocd"), WorkDir: t.TempDir()}, nil)
	_, err := b.Open(context.Background(), session.OpenRequest{
		Target: &target.Target{Name: "stm32f4", Config: "target/stm32f4x.cfg"},
	})
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Stage != "start" {
		t.Fatalf("expected start ExecutionError, got %v", err)
	}
}

func TestCheckOpenOCD(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeScript(t, `echo "Open On-Chip Debugger 0.12.0" >&2
echo "Licensed under GNU GPL v2" >&2`)
		res, err := CheckOpenOCD(context.Background(), path)
		if err != nil {
			t.Fatalf("CheckOpenOCD() error = %v", err)
		}
		if res.Version != "Open On-Chip Debugger 0.12.0" {
			t.Errorf("Version = %q", res.Version)
		}
	})

	t.Run("not openocd", func(t *testing.T) {
		path := writeScript(t, `echo "GNU gdb 13.1"`)
		_, err := CheckOpenOCD(context.Background(), path)
		var pe *PrerequisiteError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PrerequisiteError, got %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := CheckOpenOCD(context.Background(), filepath.Join(t.TempDir(), "openocd"))
		var pe *PrerequisiteError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PrerequisiteError, got %v", err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := CheckOpenOCD(context.Background(), ""); err == nil {
			t.Error("expected error for empty path")
		}
	})
}

func TestErrorLines(t *testing.T) {
	out := "Open On-Chip Debugger 0.12.0\nInfo : clock speed 2000 kHz\nError: open failed\nError: init mode failed\n"
	if got := errorLines(out); got != "Error: open failed\nError: init mode failed" {
		t.Errorf("errorLines() = %q", got)
	}
	if got := errorLines("just info\n"); got != "just info" {
		t.Errorf("errorLines() fallback = %q", got)
	}
}

func TestOutputOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"execution", &ExecutionError{Stage: "startup", ExitCode: 1, Output: "Error: no device"}, "Error: no device"},
		{"timeout wrapped", fmt.Errorf("attach: %w", &TimeoutError{Stage: "startup", Timeout: "1s", Output: "Info : waiting"}), "Info : waiting"},
		{"other", errors.New("boom"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputOf(tt.err); got != tt.want {
				t.Errorf("OutputOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
