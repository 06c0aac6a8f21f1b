package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"luks-keeper/internal/keeper"
)

func newTestExecutor(euid int) *OSExecutor {
	e := New(keeper.NewNopLogger())
	e.euid = func() int { return euid }
	return e
}

func TestOSExecutor_Argv(t *testing.T) {
	tests := []struct {
		name string
		euid int
		cmd  keeper.Command
		want string
	}{
		{
			name: "unprivileged command",
			euid: 1000,
			cmd:  keeper.Command{Name: "sh", Args: []string{"-c", "true"}},
			want: "sh -c true",
		},
		{
			name: "elevated as user uses sudo",
			euid: 1000,
			cmd:  keeper.Command{Name: "cryptsetup", Args: []string{"luksClose", "crypt1"}, Elevated: true},
			want: "sudo cryptsetup luksClose crypt1",
		},
		{
			name: "elevated as root runs directly",
			euid: 0,
			cmd:  keeper.Command{Name: "umount", Args: []string{"/mnt"}, Elevated: true},
			want: "umount /mnt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(tt.euid)
			if got := strings.Join(e.argv(tt.cmd), " "); got != tt.want {
				t.Errorf("argv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOSExecutor_Run(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(1000)

	t.Run("captures output", func(t *testing.T) {
		res, err := e.Run(ctx, keeper.Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !res.Success() {
			t.Errorf("ExitCode = %d, want 0", res.ExitCode)
		}
		if strings.TrimSpace(string(res.Stdout)) != "out" || strings.TrimSpace(string(res.Stderr)) != "err" {
			t.Errorf("stdout = %q, stderr = %q", res.Stdout, res.Stderr)
		}
	})

	t.Run("non-zero exit is a result", func(t *testing.T) {
		res, err := e.Run(ctx, keeper.Command{Name: "sh", Args: []string{"-c", "exit 7"}})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.ExitCode != 7 {
			t.Errorf("ExitCode = %d, want 7", res.ExitCode)
		}
	})

	t.Run("stdin and env are passed", func(t *testing.T) {
		res, err := e.Run(ctx, keeper.Command{
			Name:  "sh",
			Args:  []string{"-c", `read line; echo "$line-$LUKS_KEEPER_DEVICE"`},
			Stdin: []byte("secret\n"),
			Env:   []string{"LUKS_KEEPER_DEVICE=crypt1"},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := strings.TrimSpace(string(res.Stdout)); got != "secret-crypt1" {
			t.Errorf("stdout = %q, want %q", got, "secret-crypt1")
		}
	})

	t.Run("missing binary is an error", func(t *testing.T) {
		_, err := e.Run(ctx, keeper.Command{Name: "luks-keeper-no-such-binary"})
		if err == nil {
			t.Fatal("Run() expected error for missing binary")
		}
	})

	t.Run("expired context stops before starting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()

		marker := filepath.Join(t.TempDir(), "ran")
		_, err := e.Run(ctx, keeper.Command{Name: "touch", Args: []string{marker}})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
		if _, err := os.Stat(marker); !os.IsNotExist(err) {
			t.Error("command ran after the context was cancelled")
		}
	})

	t.Run("started command runs to completion past the deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		res, err := e.Run(ctx, keeper.Command{Name: "sh", Args: []string{"-c", "sleep 0.3; echo done"}})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !res.Success() || strings.TrimSpace(string(res.Stdout)) != "done" {
			t.Errorf("result = %+v, want a completed command", res)
		}
		if ctx.Err() == nil {
			t.Fatal("deadline should have passed while the command ran")
		}

		if _, err := e.Run(ctx, keeper.Command{Name: "true"}); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("next Run() error = %v, want context.DeadlineExceeded", err)
		}
	})
}
