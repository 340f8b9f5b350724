package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/pairline/internal/collab"
	"github.com/1ureka/pairline/internal/directory"
	"github.com/1ureka/pairline/internal/multiplex"
	"github.com/1ureka/pairline/internal/protocol"
)

// ErrUnknownCommand is returned for an unrecognized console command.
var ErrUnknownCommand = errors.New("unknown command")

const helpText = `code <text>             replace the shared code (\n for newlines)
lang <name>             switch the editor language
output <text>           share execution output
error <text>            share execution output as an error
draw x1 y1 x2 y2 [color] [width]
erase x1 y1 x2 y2 [width]
clear                   clear the whiteboard
overlay on|off          toggle transparent whiteboard mode
move x y                move the overlay window
resize w h              resize the overlay window
timer <minutes> [reminder minutes]
waiting                 list participants waiting for admission (host)
admit <peer>            let a waiting participant in (host)
deny <peer>             turn a waiting participant away (host)
leave                   end the session`

// ErrNoGate is returned by admission commands when no gate is enabled.
var ErrNoGate = errors.New("admission gate not enabled")

const admissionTimeout = 5 * time.Second

// workspace applies console commands to the collaboration components.
type workspace struct {
	sessionID string
	editor    *collab.Editor
	board     *collab.Whiteboard
	timer     *collab.Timer
	admitter  directory.Admitter // nil unless this host runs a gate
	leave     func()
}

// readCommands executes one command per input line until in is exhausted,
// ctx is cancelled or leave is requested.
func (w *workspace) readCommands(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := w.exec(line)
		switch {
		case errors.Is(err, errLeave):
			return
		case errors.Is(err, multiplex.ErrChannelClosed):
			pterm.Warning.Println("not connected yet, change kept locally")
		case err != nil:
			pterm.Warning.Printfln("%v", err)
		}
	}
}

var errLeave = errors.New("leave requested")

// exec runs a single command line.
func (w *workspace) exec(line string) error {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch name {
	case "help":
		pterm.Println(helpText)
		return nil

	case "code":
		return w.editor.SetCode(strings.ReplaceAll(rest, `\n`, "\n"))

	case "lang":
		if len(args) != 1 {
			return usage("lang <name>")
		}
		return w.editor.SetLanguage(args[0])

	case "output", "error":
		return w.editor.PublishOutput(strings.ReplaceAll(rest, `\n`, "\n"), name == "error")

	case "draw", "erase":
		s, err := parseStroke(name, args)
		if err != nil {
			return err
		}
		return w.board.Draw(s)

	case "clear":
		return w.board.Clear()

	case "overlay":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return usage("overlay on|off")
		}
		on := args[0] == "on"
		return w.board.UpdateSettings(protocol.WhiteboardSettings{IsTransparent: &on})

	case "move":
		v, err := floats(args, 2, "move x y")
		if err != nil {
			return err
		}
		return w.board.UpdateSettings(protocol.WhiteboardSettings{Position: &protocol.Point{X: v[0], Y: v[1]}})

	case "resize":
		v, err := floats(args, 2, "resize w h")
		if err != nil {
			return err
		}
		return w.board.UpdateSettings(protocol.WhiteboardSettings{Size: &protocol.Size{Width: v[0], Height: v[1]}})

	case "timer":
		if len(args) < 1 || len(args) > 2 {
			return usage("timer <minutes> [reminder minutes]")
		}
		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			return usage("timer <minutes> [reminder minutes]")
		}
		reminder := 0
		if len(args) == 2 {
			if reminder, err = strconv.Atoi(args[1]); err != nil || reminder < 0 {
				return usage("timer <minutes> [reminder minutes]")
			}
		}
		_, err = w.timer.Configure(time.Duration(minutes)*time.Minute, reminder)
		return err

	case "waiting", "admit", "deny":
		return w.admission(name, args)

	case "leave":
		w.leave()
		return errLeave
	}

	return fmt.Errorf("%w: %s (try help)", ErrUnknownCommand, name)
}

// admission lists waiting participants or posts a verdict for one of them.
func (w *workspace) admission(name string, args []string) error {
	if w.admitter == nil {
		return ErrNoGate
	}
	ctx, cancel := context.WithTimeout(context.Background(), admissionTimeout)
	defer cancel()

	if name == "waiting" {
		peers, err := w.admitter.Pending(ctx, w.sessionID)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			pterm.Info.Println("nobody is waiting")
			return nil
		}
		for _, p := range peers {
			pterm.Info.Printfln("waiting: %s", p)
		}
		return nil
	}

	if len(args) != 1 {
		return usage(name + " <peer>")
	}
	if name == "admit" {
		if err := w.admitter.Admit(ctx, w.sessionID, args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("admitted %s", args[0])
		return nil
	}
	if err := w.admitter.Deny(ctx, w.sessionID, args[0]); err != nil {
		return err
	}
	pterm.Info.Printfln("denied %s", args[0])
	return nil
}

// parseStroke reads "x1 y1 x2 y2 [color] [width]" for draw, or
// "x1 y1 x2 y2 [width]" for erase.
func parseStroke(name string, args []string) (collab.Stroke, error) {
	if len(args) < 4 {
		return collab.Stroke{}, usage(name + " x1 y1 x2 y2 ...")
	}
	v, err := floats(args[:4], 4, name+" x1 y1 x2 y2 ...")
	if err != nil {
		return collab.Stroke{}, err
	}

	s := collab.Stroke{FromX: v[0], FromY: v[1], ToX: v[2], ToY: v[3], Tool: protocol.ToolPen, Color: "#000000", Width: 2}
	extra := args[4:]
	if name == "erase" {
		s.Tool = protocol.ToolEraser
		s.Color = ""
		s.Width = 10
	} else if len(extra) > 0 {
		s.Color, extra = extra[0], extra[1:]
	}
	if len(extra) > 0 {
		width, err := strconv.ParseFloat(extra[0], 64)
		if err != nil || width <= 0 {
			return collab.Stroke{}, usage(name + " ... width must be positive")
		}
		s.Width = width
	}
	return s, nil
}

func floats(args []string, n int, form string) ([]float64, error) {
	if len(args) != n {
		return nil, usage(form)
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, usage(form)
		}
		out[i] = v
	}
	return out, nil
}

func usage(form string) error {
	return fmt.Errorf("usage: %s", form)
}
