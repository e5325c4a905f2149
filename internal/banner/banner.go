// Package banner renders operator-facing terminal output for wgproxy:
// a one-time startup summary and an on-demand flow-table dump (§10.5).
// Neither is a control surface — both are read-only introspection aids
// written to stderr alongside the structured logs.
package banner

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"wgproxy/internal/config"
	"wgproxy/internal/relay"
)

var (
	accent = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	muted  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	label  = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Width(16)
)

// detectColorProfile downgrades lipgloss's global color profile to ASCII
// when w isn't a terminal (piped stderr, log aggregator, etc.), the same
// thing the teacher's ui package does before rendering styled output.
func detectColorProfile(w io.Writer) {
	lipgloss.SetColorProfile(termenv.NewOutput(w).Profile)
}

// Startup writes a one-time styled configuration summary to w.
func Startup(w io.Writer, cfg config.Config) {
	detectColorProfile(w)
	fmt.Fprintln(w, accent.Render("wgproxy"), muted.Render("— stateful WireGuard NAT relay"))
	line := func(k, v string) {
		fmt.Fprintln(w, label.Render(k), v)
	}
	line("listen", cfg.Listen.String())
	line("upstream", cfg.Server.String())
	line("keys", fmt.Sprintf("%d accepted", len(cfg.PublicKeys)))
	line("ports", fmt.Sprintf("%d-%d (%d max flows)", cfg.PortLo, cfg.PortHi, int(cfg.PortHi-cfg.PortLo)+1))
	line("timeout", cfg.IdleTimeout.String())
}

// FlowDump writes a styled snapshot of every active flow to w, triggered
// by SIGUSR1. It takes no locks beyond what relay.Engine.Snapshot already
// holds internally and never blocks the hot path.
func FlowDump(w io.Writer, snap []relay.FlowSnapshot) {
	detectColorProfile(w)
	if len(snap) == 0 {
		fmt.Fprintln(w, muted.Render("no active flows"))
		return
	}

	sort.Slice(snap, func(i, j int) bool {
		return snap[i].Client.String() < snap[j].Client.String()
	})

	rows := make([][]string, 0, len(snap))
	for _, f := range snap {
		rows = append(rows, []string{
			f.Client.String(),
			fmt.Sprintf("%d", f.Port),
			f.IdleFor.Round(time.Second).String(),
		})
	}

	t := table.New().
		Headers("CLIENT", "PORT", "IDLE").
		Rows(rows...).
		Border(lipgloss.NormalBorder())
	fmt.Fprintln(w, t.Render())
}
