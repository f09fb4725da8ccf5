package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
	"github.com/roffe/canman"
	"go.bug.st/serial/enumerator"
)

func requiresSerialPort(adapter string) bool {
	for _, a := range canman.ListAdapters() {
		if strings.EqualFold(a.Name, adapter) {
			return a.RequiresSerialPort
		}
	}
	return false
}

func listPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

func describePort(p *enumerator.PortDetails) string {
	if p.IsUSB {
		return fmt.Sprintf("%s (%s:%s %s %s)", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
	}
	return p.Name
}

// pickPort returns cfg.Channel unless the adapter needs a serial port and
// the channel is "*" or empty. Then the user picks one from a list, which
// requires an interactive terminal.
func pickPort(cfg canman.BusConfig) (string, error) {
	if cfg.Channel != "*" && cfg.Channel != "" {
		return cfg.Channel, nil
	}
	if !requiresSerialPort(cfg.Interface) {
		return cfg.Channel, nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("adapter %s needs --%s when not run from a terminal", cfg.Interface, flagPort)
	}
	ports, err := listPorts()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	items := make([]string, len(ports))
	for i, p := range ports {
		items[i] = describePort(p)
	}
	sel := promptui.Select{
		Label: "Select serial port for " + cfg.Interface,
		Items: items,
	}
	idx, _, err := sel.Run()
	if err != nil {
		return "", err
	}
	return ports[idx].Name, nil
}
