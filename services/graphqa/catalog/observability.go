// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// mutationsTotal counts catalog writes.
	//
	// Labels:
	//   - op: "create", "update", "delete", "import"
	//   - status: "success", "not_found", "conflict", "forbidden", "invalid", "error"
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphqa",
			Subsystem: "catalog",
			Name:      "mutations_total",
			Help:      "Catalog mutations by operation and outcome.",
		},
		[]string{"op", "status"},
	)

	catalogSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "graphqa",
			Subsystem: "catalog",
			Name:      "tools",
			Help:      "Number of tools in the catalog.",
		},
		[]string{"kind"},
	)
)

func mutationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}
