package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell/v2"
	"github.com/pterm/pterm"

	"github.com/1ureka/lanracer/internal/peer"
	"github.com/1ureka/lanracer/internal/router"
	"github.com/1ureka/lanracer/internal/signaling"
)

// runConsole serves operator commands until `quit`, stdin EOF, or ctx is
// cancelled.
func runConsole(ctx context.Context, rt *router.Router) {
	shell := ishell.New()
	shell.SetPrompt("lanracer> ")
	shell.Println("Type 'help' for commands. Descriptors are single lines: copy them whole.")

	shell.Interrupt(func(c *ishell.Context, count int, input string) {
		if count >= 2 {
			c.Stop()
			return
		}
		c.Println("press Ctrl+C again or type 'quit' to exit")
	})

	shell.AddCmd(offerCmd(ctx, rt))
	shell.AddCmd(completeCmd(rt))
	shell.AddCmd(answerCmd(ctx, rt))
	shell.AddCmd(peersCmd(rt))
	shell.AddCmd(dropCmd(rt))
	shell.AddCmd(&ishell.Cmd{
		Name: "quit",
		Help: "close every tunnel and exit",
		Func: func(c *ishell.Context) { c.Stop() },
	})

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			shell.Close()
		case <-stopped:
		}
	}()

	shell.Run()
}

// peerArg returns the single peer name argument, or reports usage.
func peerArg(c *ishell.Context, usage string) (string, bool) {
	if len(c.Args) != 1 || strings.TrimSpace(c.Args[0]) == "" {
		c.Println("usage:", usage)
		return "", false
	}
	return c.Args[0], true
}

// readDescriptor prompts for a pasted descriptor.
func readDescriptor(c *ishell.Context, prompt string) string {
	c.Println(prompt)
	c.SetPrompt("paste> ")
	defer c.SetPrompt("lanracer> ")
	return strings.TrimSpace(c.ReadLine())
}

// withSpinner shows a spinner while fn waits for candidate discovery.
func withSpinner(text string, fn func() (string, error)) (string, error) {
	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start(text)
	out, err := fn()
	if spinner != nil {
		spinner.Stop()
	}
	return out, err
}

func printDescriptor(c *ishell.Context, id, descriptor string) {
	c.Println()
	c.Printf("descriptor for %s (send it as one line):\n\n", id)
	c.Println(descriptor)
	c.Println()
}

func offerCmd(ctx context.Context, rt *router.Router) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "offer",
		Help: "offer <peer>: start a connection, print the offer, then read the answer",
		Func: func(c *ishell.Context) {
			id, ok := peerArg(c, "offer <peer>")
			if !ok {
				return
			}

			offer, err := withSpinner("gathering candidates...", func() (string, error) {
				return rt.Offer(ctx, id)
			})
			if err != nil {
				report(c, id, err)
				return
			}
			printDescriptor(c, id, offer)

			answer := readDescriptor(c, fmt.Sprintf("paste the answer from %s (empty to finish later with 'complete %s'):", id, id))
			if answer == "" {
				return
			}
			applyAnswer(c, rt, id, answer)
		},
	}
}

func completeCmd(rt *router.Router) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "complete",
		Help: "complete <peer>: read the answer for a pending offer",
		Func: func(c *ishell.Context) {
			id, ok := peerArg(c, "complete <peer>")
			if !ok {
				return
			}
			answer := readDescriptor(c, fmt.Sprintf("paste the answer from %s:", id))
			if answer == "" {
				c.Println("no answer given")
				return
			}
			applyAnswer(c, rt, id, answer)
		},
	}
}

func applyAnswer(c *ishell.Context, rt *router.Router, id, answer string) {
	if err := rt.Complete(id, answer); err != nil {
		report(c, id, err)
		if errors.Is(err, signaling.ErrMalformedDescriptor) {
			c.Printf("the offer is still pending: 'complete %s' to paste again\n", id)
		}
		return
	}
	c.Printf("answer applied, connecting to %s...\n", id)
}

func answerCmd(ctx context.Context, rt *router.Router) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "answer",
		Help: "answer <peer>: read an offer and print the answer",
		Func: func(c *ishell.Context) {
			id, ok := peerArg(c, "answer <peer>")
			if !ok {
				return
			}
			offer := readDescriptor(c, fmt.Sprintf("paste the offer from %s:", id))
			if offer == "" {
				c.Println("no offer given")
				return
			}

			answer, err := withSpinner("gathering candidates...", func() (string, error) {
				return rt.Answer(ctx, id, offer)
			})
			if err != nil {
				report(c, id, err)
				return
			}
			printDescriptor(c, id, answer)
		},
	}
}

func peersCmd(rt *router.Router) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "peers",
		Help: "list peers and their connection state",
		Func: func(c *ishell.Context) {
			peers := rt.Peers()
			if len(peers) == 0 {
				c.Println("no peers")
				return
			}

			data := pterm.TableData{{"PEER", "ROLE", "STATE", "TUNNEL", "SESSION"}}
			for _, p := range peers {
				tunnel := "-"
				if p.Tunnel {
					tunnel = "yes"
				}
				data = append(data, []string{p.ID, p.Role.String(), p.State.String(), tunnel, fmt.Sprintf("#%d", p.Session)})
			}

			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(table)
		},
	}
}

func dropCmd(rt *router.Router) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "drop",
		Help: "drop <peer>: close a connection and forget the peer",
		Func: func(c *ishell.Context) {
			id, ok := peerArg(c, "drop <peer>")
			if !ok {
				return
			}
			if err := rt.Drop(id); err != nil {
				report(c, id, err)
				return
			}
			c.Printf("dropped %s\n", id)
		},
	}
}

// report prints err and, for common operator mistakes, the next step.
func report(c *ishell.Context, id string, err error) {
	c.Err(err)
	if hint := errorHint(id, err); hint != "" {
		c.Println("hint:", hint)
	}
}

func errorHint(id string, err error) string {
	switch {
	case errors.Is(err, peer.ErrDuplicatePeer):
		return fmt.Sprintf("'drop %s' first to replace it", id)
	case errors.Is(err, signaling.ErrMalformedDescriptor):
		return "copy the whole line exactly as printed"
	case errors.Is(err, peer.ErrPeerNotFound):
		return "'peers' lists the known names"
	case errors.Is(err, peer.ErrNegotiation):
		return fmt.Sprintf("'drop %s' and start over", id)
	default:
		return ""
	}
}
