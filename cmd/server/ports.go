// cmd/server/ports.go
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"comlink-service/internal/model"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports with their USB identifiers",
	Long: `List the serial ports currently present, the way the port monitor sees them.

USB enrichment and the monitor.match expression from the configuration apply.
With --vid/--pid only ports accepted by that filter are shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		defer logger.Sync()

		lister, err := buildLister(cfg, logger)
		if err != nil {
			return err
		}

		vid, _ := cmd.Flags().GetString("vid")
		pid, _ := cmd.Flags().GetString("pid")
		filter, err := parsePortFilter(vid, pid)
		if err != nil {
			return err
		}

		ports, err := lister.ListPorts()
		if err != nil {
			return err
		}

		var matching []model.PortDescriptor
		for _, p := range ports {
			if filter.Matches(p) {
				matching = append(matching, p)
			}
		}

		renderPorts(os.Stdout, matching)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().String("vid", "", "USB vendor ID filter, hex (e.g. 0x2341)")
	portsCmd.Flags().String("pid", "", "USB product ID filter, hex (e.g. 0x0043)")
}

func parsePortFilter(vid, pid string) (model.PortFilter, error) {
	var (
		filter model.PortFilter
		err    error
	)
	if filter.VendorID, err = model.ParseUSBID(vid); err != nil {
		return filter, err
	}
	if filter.ProductID, err = model.ParseUSBID(pid); err != nil {
		return filter, err
	}
	return filter, nil
}

// renderPorts renders the port list as a styled table
func renderPorts(w io.Writer, ports []model.PortDescriptor) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("PORT", "USB ID", "PRODUCT", "MANUFACTURER", "SERIAL").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, p := range ports {
		usbID := p.USBID()
		if usbID == "" {
			usbID = "-"
		}
		t.Row(p.Name, usbID, p.Product, p.Manufacturer, p.SerialNumber)
	}

	fmt.Fprintf(w, "Found %d serial port(s):\n", len(ports))
	fmt.Fprintln(w, t.Render())
}
