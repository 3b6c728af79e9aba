package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/drpcorg/statetree"
	"github.com/drpcorg/statetree/clone"
	"github.com/drpcorg/statetree/utils"
	"github.com/ergochat/readline"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("set", readline.PcItem("a"), readline.PcItem("b")),
	readline.PcItem("del", readline.PcItem("a"), readline.PcItem("b")),
	readline.PcItem("push", readline.PcItem("a"), readline.PcItem("b")),
	readline.PcItem("obj", readline.PcItem("a"), readline.PcItem("b")),
	readline.PcItem("arr", readline.PcItem("a"), readline.PcItem("b")),
	readline.PcItem("flush"),
	readline.PcItem("show"),
	readline.PcItem("info", readline.PcItem("a"), readline.PcItem("b")),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

const usage = `set <r> <path> <json>   store a value, objects and arrays become containers
del <r> <path>          delete a key
push <r> <path> <json>  append to an array
obj <r> <path>          store an empty object
arr <r> <path>          store an empty array
flush                   exchange pending changes between the replicas
show                    print both replicas
info <r> <path>         kind, size and creation time of a container
exit                    leave
<r> is a or b; paths look like list.0.name, "." is the root`

var ErrBadReplica = errors.New("replica is a or b")

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

type replica struct {
	name string
	root *statetree.Object
	net  *statetree.Network
}

func newReplica(name string, root *statetree.Object, log utils.Logger) (*replica, error) {
	net, err := statetree.NewNetwork(root.Observer(), statetree.WithLogger(log))
	if err != nil {
		return nil, err
	}
	root.Observer().Watch(func(ev *statetree.Event) error {
		path, _ := ev.Path()
		keys := make([]string, len(path))
		for i, k := range path {
			keys[i] = describe(k)
		}
		_, _ = fmt.Fprintf(os.Stderr, "%s: %s %s %s -> %s\n", name, ev.Kind,
			strings.Join(keys, "."), describe(ev.Prev), describe(ev.Value))
		return nil
	})
	return &replica{name: name, root: root, net: net}, nil
}

func main() {

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/statetree.tmp",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	log := utils.NewDefaultLogger(slog.LevelInfo)
	rootA := statetree.NewObject(nil)
	v, err := clone.Clone(rootA, clone.Options{})
	if err != nil {
		panic(err)
	}
	a, err := newReplica("a", rootA, log)
	if err != nil {
		panic(err)
	}
	b, err := newReplica("b", v.(*statetree.Object), log)
	if err != nil {
		panic(err)
	}
	link, err := clone.Connect(a.net, b.net)
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	pick := func(name string) (*replica, error) {
		switch name {
		case "a":
			return a, nil
		case "b":
			return b, nil
		}
		return nil, ErrBadReplica
	}

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		args := strings.SplitN(line, " ", 4)
		cmd := args[0]
		args = args[1:]
		err = nil
		switch cmd {
		case "":
		case "help":
			fmt.Println(usage)
		case "set", "push":
			if len(args) < 3 {
				err = fmt.Errorf("usage: %s <r> <path> <json>", cmd)
				break
			}
			var r *replica
			var val any
			if r, err = pick(args[0]); err != nil {
				break
			}
			if val, err = fromJSON(args[2]); err != nil {
				break
			}
			if cmd == "set" {
				err = assign(r.root, args[1], val)
			} else {
				err = push(r.root, args[1], val)
			}
		case "del", "obj", "arr":
			if len(args) < 2 {
				err = fmt.Errorf("usage: %s <r> <path>", cmd)
				break
			}
			var r *replica
			if r, err = pick(args[0]); err != nil {
				break
			}
			switch cmd {
			case "del":
				err = remove(r.root, args[1])
			case "obj":
				err = assign(r.root, args[1], statetree.NewObject(nil))
			case "arr":
				err = assign(r.root, args[1], statetree.NewArray(nil))
			}
		case "info":
			if len(args) < 1 {
				err = fmt.Errorf("usage: info <r> [path]")
				break
			}
			var r *replica
			if r, err = pick(args[0]); err != nil {
				break
			}
			path := "."
			if len(args) > 1 {
				path = args[1]
			}
			var text string
			if text, err = info(r.root, path); err == nil {
				fmt.Println(text)
			}
		case "flush":
			err = link.Sync(ctx)
		case "show", "list":
			for _, r := range []*replica{a, b} {
				var text string
				if text, err = toJSON(r.root); err != nil {
					break
				}
				fmt.Printf("%s (%d containers):\n%s\n", r.name, r.net.Len(), text)
			}
		case "exit", "quit":
			ex := 0
			if err = link.Close(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err.Error())
				ex = -1
			}
			a.net.Remove()
			b.net.Remove()
			os.Exit(ex)
		default:
			_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
}
