package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/pkg/config"
	"github.com/srg/eegbuds/scanner"
)

// target binds one earpiece link to a side.
type target struct {
	Role headset.Role
	ID   headset.LinkID
}

// resolveTargets picks the earpieces to connect. Args are "[left-id]
// [right-id]" or "side=id" pairs and win over the config; any side still
// unknown is discovered by a scan.
func resolveTargets(ctx context.Context, cfg *config.Config, adapter device.LinkAdapter, logger *logrus.Logger, args []string) ([]target, error) {
	if len(args) > cfg.Roles {
		return nil, fmt.Errorf("expected at most %d earpiece ids, got %d", cfg.Roles, len(args))
	}

	ids := [2]string{cfg.Left, cfg.Right}
	var given [2]bool
	for i, a := range args {
		role, id, err := parseTarget(i, a)
		if err != nil {
			return nil, err
		}
		if int(role) >= cfg.Roles {
			return nil, fmt.Errorf("%s earpiece given but the session uses %d earpiece", role, cfg.Roles)
		}
		if given[role] {
			return nil, fmt.Errorf("%s earpiece given twice", role)
		}
		given[role] = true
		ids[role] = id
	}

	roles := device.Roles[:cfg.Roles]
	var missing []headset.Role
	for _, r := range roles {
		if ids[r] == "" {
			missing = append(missing, r)
		}
	}

	if len(missing) > 0 {
		found, err := discover(ctx, cfg, adapter, logger)
		if err != nil {
			return nil, err
		}
		for _, r := range missing {
			id, ok := found[r]
			// a lone earpiece plays Left whatever its name says
			if !ok && cfg.Roles == 1 {
				id, ok = found[r.Other()]
			}
			if !ok {
				return nil, fmt.Errorf("%s earpiece: %w", r, ErrNoEarpieces)
			}
			ids[r] = string(id)
		}
	}

	if cfg.Roles == 2 && ids[headset.Left] == ids[headset.Right] {
		return nil, fmt.Errorf("left and right must be different earpieces, both are %q", ids[headset.Left])
	}

	out := make([]target, 0, len(roles))
	for _, r := range roles {
		out = append(out, target{Role: r, ID: headset.LinkID(ids[r])})
	}
	return out, nil
}

// parseTarget reads one earpiece argument. "right=AA:BB:..." names its side;
// a bare id takes the side of its position.
func parseTarget(pos int, arg string) (headset.Role, string, error) {
	side, id, named := strings.Cut(arg, "=")
	if !named {
		return device.Roles[pos], strings.TrimSpace(arg), nil
	}
	role, err := device.ParseRole(side)
	if err != nil {
		return 0, "", err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, "", fmt.Errorf("%s earpiece: empty link id", role)
	}
	return role, id, nil
}

func discover(ctx context.Context, cfg *config.Config, adapter device.LinkAdapter, logger *logrus.Logger) (map[headset.Role]headset.LinkID, error) {
	s, err := scanner.NewScanner(adapter, logger)
	if err != nil {
		return nil, err
	}
	opts := scanner.DefaultScanOptions()
	opts.Duration = cfg.ScanTimeout

	logger.WithField("duration", opts.Duration).Info("Looking for earpieces")
	devices, err := s.Scan(ctx, opts, nil)
	if err != nil {
		return nil, err
	}

	found := map[headset.Role]headset.LinkID{}
	best := map[headset.Role]int{}
	for _, d := range devices {
		role, ok := d.Role()
		if !ok {
			continue
		}
		// strongest signal wins when several headsets are around
		if _, seen := found[role]; !seen || d.RSSI > best[role] {
			found[role] = d.ID
			best[role] = d.RSSI
		}
	}
	return found, nil
}
