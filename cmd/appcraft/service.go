package main

import (
	"fmt"
	"path/filepath"

	"github.com/flemzord/appcraft/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts app.Start and Runtime.Stop to the service manager.
type program struct {
	params app.RunParams
	rt     *app.Runtime
}

func (p *program) Start(_ service.Service) error {
	rt, err := app.Start(p.params)
	if err != nil {
		return err
	}
	p.rt = rt
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.rt != nil {
		p.rt.Stop()
	}
	return nil
}

// serviceConfig describes the installed unit. The config path is made
// absolute because service managers do not keep the caller's directory.
func serviceConfig(params app.RunParams) (*service.Config, error) {
	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if params.DataDir != "" {
		abs, err := filepath.Abs(params.DataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}
	return &service.Config{
		Name:        "appcraft",
		DisplayName: "appcraft",
		Description: "Runs scheduled jobs and data triggers for generated applications.",
		Arguments:   args,
	}, nil
}

func newService(params app.RunParams) (service.Service, error) {
	cfg, err := serviceConfig(params)
	if err != nil {
		return nil, err
	}
	return service.New(&program{params: params}, cfg)
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage appcraft as a system service",
	}

	for _, action := range service.ControlAction {
		c := &cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := newService(runParams(cmd))
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		}
		addRunFlags(c)
		cmd.AddCommand(c)
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run under the service manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(runParams(cmd))
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}
	addRunFlags(run)

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the system service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(runParams(cmd))
			if err != nil {
				return err
			}
			st, err := svc.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusText(st))
			return nil
		},
	}
	addRunFlags(status)

	cmd.AddCommand(run, status)
	return cmd
}

func statusText(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
