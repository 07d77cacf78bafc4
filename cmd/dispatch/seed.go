package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

// seedFixture is the YAML document accepted by `serve --seed` and `admin seed`.
type seedFixture struct {
	Designers []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Inactive     bool   `yaml:"inactive"`
		Availability []struct {
			From time.Time `yaml:"from"`
			To   time.Time `yaml:"to"`
		} `yaml:"availability"`
	} `yaml:"designers"`
	Companies []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		FreeCredits int    `yaml:"free_credits"`
		Packages    []struct {
			ID        string     `yaml:"id"`
			Credits   int        `yaml:"credits"`
			Remaining *int       `yaml:"remaining"`
			ExpiresAt *time.Time `yaml:"expires_at"`
		} `yaml:"packages"`
	} `yaml:"companies"`
}

type seedCounts struct {
	Designers, Windows, Companies, Packages int
}

func seedFile(ctx context.Context, admin store.Admin, path string) (seedCounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedCounts{}, fmt.Errorf("read seed file: %w", err)
	}
	var fixture seedFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return seedCounts{}, fmt.Errorf("parse seed file: %w", err)
	}
	return applySeed(ctx, admin, fixture, time.Now().UTC())
}

func applySeed(ctx context.Context, admin store.Admin, fixture seedFixture, now time.Time) (seedCounts, error) {
	var counts seedCounts
	for i, d := range fixture.Designers {
		if d.ID == "" {
			return counts, fmt.Errorf("designers[%d]: id is required", i)
		}
		designer := models.Designer{ID: d.ID, DisplayName: d.Name, Active: !d.Inactive, CreatedAt: now.Add(time.Duration(i) * time.Microsecond)}
		if err := admin.UpsertDesigner(ctx, designer); err != nil {
			return counts, fmt.Errorf("designer %s: %w", d.ID, err)
		}
		counts.Designers++
		for _, w := range d.Availability {
			window := models.AvailabilityWindow{DesignerID: d.ID, StartsAt: w.From.UTC(), EndsAt: w.To.UTC()}
			if _, err := admin.AddAvailability(ctx, window); err != nil {
				return counts, fmt.Errorf("designer %s availability: %w", d.ID, err)
			}
			counts.Windows++
		}
	}
	for i, c := range fixture.Companies {
		if c.ID == "" {
			return counts, fmt.Errorf("companies[%d]: id is required", i)
		}
		if err := admin.UpsertCompany(ctx, models.Company{ID: c.ID, Name: c.Name, FreeCredits: c.FreeCredits}); err != nil {
			return counts, fmt.Errorf("company %s: %w", c.ID, err)
		}
		counts.Companies++
		for j, p := range c.Packages {
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			left := p.Credits
			if p.Remaining != nil {
				left = *p.Remaining
			}
			purchase := models.PackagePurchase{
				ID:           p.ID,
				CompanyID:    c.ID,
				CreditsTotal: p.Credits,
				CreditsLeft:  left,
				ExpiresAt:    p.ExpiresAt,
				CreatedAt:    now.Add(time.Duration(j) * time.Microsecond),
			}
			if err := admin.AddPackagePurchase(ctx, purchase); err != nil {
				return counts, fmt.Errorf("company %s package %s: %w", c.ID, p.ID, err)
			}
			counts.Packages++
		}
	}
	return counts, nil
}
