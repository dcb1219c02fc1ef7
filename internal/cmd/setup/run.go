package setup

import (
	"context"
	"flag"

	"cloudcrate/internal/config"
	isetup "cloudcrate/internal/setup"
)

func Run(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	var configPath, email, name string
	fs.StringVar(&configPath, "config", "./cloudcrate.yaml", "path to cloudcrate.yaml")
	fs.StringVar(&email, "email", "", "admin account email")
	fs.StringVar(&name, "name", "Admin", "admin display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	return isetup.Run(context.Background(), cfg, isetup.Options{
		Email: email,
		Name:  name,
	})
}
