package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"designer-dispatch/internal/models"
)

const adminUsage = "usage: dispatch admin <designer|availability|company|package|seed> [flags]"

func runAdmin(args []string) error {
	if len(args) == 0 {
		return usagef(adminUsage)
	}
	cmd, err := newCommand("admin "+args[0], args[1:])
	if err != nil {
		return err
	}

	var apply func(ctx context.Context, b *backend) error
	switch args[0] {
	case "designer":
		id := cmd.fs.String("id", "", "Designer id")
		name := cmd.fs.String("name", "", "Display name")
		inactive := cmd.fs.Bool("inactive", false, "Exclude the designer from scheduling")
		apply = func(ctx context.Context, b *backend) error {
			if err := required("id", *id); err != nil {
				return err
			}
			d := models.Designer{ID: *id, DisplayName: *name, Active: !*inactive, CreatedAt: time.Now().UTC()}
			if err := b.UpsertDesigner(ctx, d); err != nil {
				return err
			}
			fmt.Printf("Saved designer %s (active=%t)\n", d.ID, d.Active)
			return nil
		}
	case "availability":
		designer := cmd.fs.String("designer", "", "Designer id")
		from := cmd.fs.String("from", "", "Window start (RFC3339)")
		to := cmd.fs.String("to", "", "Window end (RFC3339), exclusive")
		apply = func(ctx context.Context, b *backend) error {
			if err := required("designer", *designer, "from", *from, "to", *to); err != nil {
				return err
			}
			start, err := parseTimestamp("from", *from)
			if err != nil {
				return err
			}
			end, err := parseTimestamp("to", *to)
			if err != nil {
				return err
			}
			id, err := b.AddAvailability(ctx, models.AvailabilityWindow{DesignerID: *designer, StartsAt: start, EndsAt: end})
			if err != nil {
				return err
			}
			fmt.Printf("Added availability window %d for %s\n", id, *designer)
			return nil
		}
	case "company":
		id := cmd.fs.String("id", "", "Company id")
		name := cmd.fs.String("name", "", "Company name")
		free := cmd.fs.Int("free-credits", 0, "Free credit allowance")
		apply = func(ctx context.Context, b *backend) error {
			if err := required("id", *id); err != nil {
				return err
			}
			if err := b.UpsertCompany(ctx, models.Company{ID: *id, Name: *name, FreeCredits: *free}); err != nil {
				return err
			}
			fmt.Printf("Saved company %s with %d free credit(s)\n", *id, *free)
			return nil
		}
	case "package":
		company := cmd.fs.String("company", "", "Company id")
		id := cmd.fs.String("id", "", "Purchase id (generated when empty)")
		credits := cmd.fs.Int("credits", 0, "Credits bought")
		expires := cmd.fs.String("expires", "", "Expiry (RFC3339); empty never expires")
		apply = func(ctx context.Context, b *backend) error {
			if err := required("company", *company); err != nil {
				return err
			}
			if *credits <= 0 {
				return usagef("--credits must be > 0")
			}
			p := models.PackagePurchase{
				ID:           *id,
				CompanyID:    *company,
				CreditsTotal: *credits,
				CreditsLeft:  *credits,
				CreatedAt:    time.Now().UTC(),
			}
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			if *expires != "" {
				at, err := parseTimestamp("expires", *expires)
				if err != nil {
					return err
				}
				p.ExpiresAt = &at
			}
			if err := b.AddPackagePurchase(ctx, p); err != nil {
				return err
			}
			fmt.Printf("Added package %s (%d credits) for %s\n", p.ID, p.CreditsTotal, p.CompanyID)
			return nil
		}
	case "seed":
		file := cmd.fs.String("file", "", "YAML fixture to load")
		apply = func(ctx context.Context, b *backend) error {
			if err := required("file", *file); err != nil {
				return err
			}
			counts, err := seedFile(ctx, b, *file)
			if err != nil {
				return err
			}
			fmt.Printf("Loaded %d designer(s), %d window(s), %d company(ies), %d package(s)\n",
				counts.Designers, counts.Windows, counts.Companies, counts.Packages)
			return nil
		}
	default:
		return usagef(adminUsage)
	}

	if err := cmd.parse(); err != nil {
		return err
	}
	ctx := context.Background()
	b, err := openBackend(ctx, cmd.cfg)
	if err != nil {
		return err
	}
	defer b.close()
	return apply(ctx, b)
}

func parseTimestamp(field, value string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, usagef("--%s: %v", field, err)
	}
	return at.UTC(), nil
}
