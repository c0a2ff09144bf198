package docker

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// shellJoin quotes argv for a POSIX shell.
func shellJoin(argv []string) (string, error) {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quoting %q: %w", arg, err)
		}
		parts[i] = q
	}
	return strings.Join(parts, " "), nil
}

// runScript records the shell's pid in pidFile, then replaces the shell with
// argv so the recorded pid is the command's own.
func runScript(pidFile string, argv []string) (string, error) {
	cmd, err := shellJoin(argv)
	if err != nil {
		return "", err
	}
	return checked(fmt.Sprintf("echo $$ > %s; exec %s", pidFile, cmd))
}

// killScript signals the process recorded in pidFile and all of its
// descendants, deepest first. npm runs scripts through a child shell, so
// signalling the recorded pid alone would orphan the server.
//
// The pid file is written by the spawned shell; a kill issued right after
// spawning waits briefly for it.
func killScript(pidFile, signal string) (string, error) {
	return checked(fmt.Sprintf(`tree() {
	local c
	for c in $(pgrep -P "$1"); do tree "$c"; done
	kill -%[2]s "$1" 2>/dev/null
}
i=0
while [ ! -f %[1]s ] && [ $i -lt 10 ]; do sleep 0.1; i=$((i + 1)); done
[ -f %[1]s ] && tree "$(cat %[1]s)"
true`, pidFile, signal))
}

// clearScript empties dir except node_modules, which is kept so repeated
// installs are incremental.
func clearScript(dir string) (string, error) {
	d, err := syntax.Quote(dir, syntax.LangPOSIX)
	if err != nil {
		return "", err
	}
	return checked(fmt.Sprintf("mkdir -p %[1]s && find %[1]s -mindepth 1 -maxdepth 1 ! -name node_modules -exec rm -rf {} +", d))
}

func checked(script string) (string, error) {
	if _, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(script), "script"); err != nil {
		return "", fmt.Errorf("generated script does not parse: %w", err)
	}
	return script, nil
}
