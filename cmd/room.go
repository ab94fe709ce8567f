package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/laundry-scheduler/internal/config"
	"github.com/example/laundry-scheduler/internal/db"
	"github.com/example/laundry-scheduler/internal/migrate"
	"github.com/example/laundry-scheduler/internal/rooms"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage laundry rooms",
	}
	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomListCmd())
	return cmd
}

func newRoomCreateCmd() *cobra.Command {
	var name, owner, ownerName string

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a room and print its join code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			if ownerName == "" {
				ownerName = owner
			}
			room, err := rooms.NewRepo(d).Create(ctx, name, owner, ownerName)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created room %q (id=%s, join code=%s)\n", room.Name, room.ID, room.Code)
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "room name")
	c.Flags().StringVar(&owner, "owner", "", "owner identity")
	c.Flags().StringVar(&ownerName, "owner-name", "", "owner display name (defaults to identity)")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("owner")
	return c
}

func newRoomListCmd() *cobra.Command {
	var member string

	c := &cobra.Command{
		Use:   "list",
		Short: "List rooms a member belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			list, err := rooms.NewRepo(d).ListForUser(ctx, member)
			if err != nil {
				return err
			}
			for _, room := range list {
				fmt.Fprintf(os.Stdout, "%s\t%s\tcode=%s\n", room.ID, room.Name, room.Code)
			}
			return nil
		},
	}

	c.Flags().StringVar(&member, "member", "", "member identity")
	_ = c.MarkFlagRequired("member")
	return c
}
