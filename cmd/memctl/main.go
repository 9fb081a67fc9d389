// Command memctl is a thin dev/test harness for the daemon-forwarding
// path (spec.md §4.8) — not the user-facing CLI, which is a separate,
// workspace-lifecycle-aware collaborator out of this module's scope
// (spec.md §1 Non-goals). It resolves the socket path the same way
// memd does, keeps its start-lock file beside the socket, and forwards
// whatever argv follows `--` to the daemon, spawning memd on demand.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/mparland/mem-cli/internal/daemon"
	"github.com/mparland/mem-cli/internal/daemonclient"
)

func main() {
	useStdin := flag.Bool("stdin", false, "read stdin and forward it to the daemon")
	memdPath := flag.String("memd", "memd", "path to the memd binary to spawn if no daemon answers")
	flag.Parse()

	argv := flag.Args()
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, "memctl: usage: memctl [--stdin] [--memd path] -- <command> [args...]")
		os.Exit(2)
	}

	var stdin string
	if *useStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "memctl: read stdin: %v\n", err)
			os.Exit(1)
		}
		stdin = string(data)
	}

	socketPath, startLockPath, err := resolvePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "memctl: %v\n", err)
		os.Exit(1)
	}

	client := &daemonclient.Client{
		SocketPath: socketPath,
		StartLock:  startLockPath,
		Spawn:      daemonclient.ExecSpawn(*memdPath, "MEM_CLI_SOCKET="+socketPath),
	}

	res, err := client.Run(context.Background(), argv, stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memctl: %v (command not forwarded; run it in-process instead)\n", err)
		os.Exit(1)
	}

	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	os.Exit(res.ExitCode)
}

func resolvePaths() (socketPath, startLockPath string, err error) {
	u, err := user.Current()
	if err != nil {
		return "", "", fmt.Errorf("resolve current user: %w", err)
	}
	uid := 0
	fmt.Sscanf(u.Uid, "%d", &uid)
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve home dir: %w", err)
	}
	socketPath = daemon.SocketPathFor(os.TempDir(), uid, home)
	startLockPath = filepath.Join(filepath.Dir(socketPath), "start.lock")
	return socketPath, startLockPath, nil
}
