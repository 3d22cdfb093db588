package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"p402-router/internal/models"
	"p402-router/internal/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Facilitators []seedFacilitator `yaml:"facilitators"`
	Routes       []seedRoute       `yaml:"routes"`
}

type seedFacilitator struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Networks []string `yaml:"networks"`
	Schemes  []string `yaml:"schemes"`
	Assets   []string `yaml:"assets"`
	Endpoint string   `yaml:"endpoint"`
	Inactive bool     `yaml:"inactive"`
}

type seedAccept struct {
	Scheme  string `yaml:"scheme"`
	Network string `yaml:"network"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`
	PayTo   string `yaml:"payTo"`
}

type seedRoute struct {
	TenantID string       `yaml:"tenantId"`
	RouteID  string       `yaml:"routeId"`
	Method   string       `yaml:"method"`
	Path     string       `yaml:"path"`
	Accepts  []seedAccept `yaml:"accepts"`
}

// seedTarget is satisfied by store.Store
type seedTarget interface {
	UpsertGlobalFacilitator(ctx context.Context, f *models.Facilitator) error
	CreateRoute(ctx context.Context, route *models.Route) error
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, f := range seed.Facilitators {
		if f.ID == "" || f.Endpoint == "" || len(f.Networks) == 0 {
			return nil, fmt.Errorf("facilitators[%d]: id, endpoint and networks are required", i)
		}
	}
	for i, r := range seed.Routes {
		if r.TenantID == "" || r.RouteID == "" {
			return nil, fmt.Errorf("routes[%d]: tenantId and routeId are required", i)
		}
		if err := r.model().Validate(); err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
	}
	return &seed, nil
}

func (f seedFacilitator) model() *models.Facilitator {
	name := f.Name
	if name == "" {
		name = f.ID
	}
	status := models.FacilitatorStatusActive
	if f.Inactive {
		status = models.FacilitatorStatusInactive
	}
	return &models.Facilitator{
		FacilitatorID: f.ID,
		Name:          name,
		Type:          models.FacilitatorTypeGlobal,
		Networks:      f.Networks,
		Schemes:       f.Schemes,
		Assets:        f.Assets,
		Endpoint:      f.Endpoint,
		Status:        status,
	}
}

func (r seedRoute) model() *models.Route {
	accepts := make(models.AcceptedPayments, len(r.Accepts))
	for i, a := range r.Accepts {
		accepts[i] = models.AcceptedPayment{
			Scheme:  a.Scheme,
			Network: a.Network,
			Asset:   a.Asset,
			Amount:  a.Amount,
			PayTo:   a.PayTo,
		}
	}
	return &models.Route{
		RouteID:  r.RouteID,
		TenantID: r.TenantID,
		Method:   strings.ToUpper(r.Method),
		Path:     r.Path,
		Accepts:  accepts,
	}
}

// applySeed upserts facilitators and creates routes. Routes that already
// exist are skipped since published routes are immutable.
func applySeed(ctx context.Context, target seedTarget, seed *seedFile) (facilitators, routes, skipped int, err error) {
	for _, f := range seed.Facilitators {
		if err := target.UpsertGlobalFacilitator(ctx, f.model()); err != nil {
			return facilitators, routes, skipped, fmt.Errorf("facilitator %s: %w", f.ID, err)
		}
		facilitators++
	}
	for _, r := range seed.Routes {
		err := target.CreateRoute(ctx, r.model())
		if errors.Is(err, store.ErrAlreadyExists) {
			skipped++
			continue
		}
		if err != nil {
			return facilitators, routes, skipped, fmt.Errorf("route %s: %w", r.RouteID, err)
		}
		routes++
	}
	return facilitators, routes, skipped, nil
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load global facilitators and routes from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			seed, err := parseSeed(data)
			if err != nil {
				return err
			}

			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			nf, nr, skipped, err := applySeed(cmd.Context(), db, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d facilitators, %d routes (%d existing routes skipped)\n", nf, nr, skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}
