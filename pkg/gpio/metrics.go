// Copyright 2024 nymea GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gpio

import (
	"github.com/nymea/nymea-gpio/pkg/metrics"
)

const (
	subSystem = "gpio"
)

var (
	// Number of times a line was exported
	linesExportedTotal = metrics.MustRegisterCounterVec(subSystem,
		"lines_exported_total",
		"Number of times a line was exported",
		"gpio")

	// Number of kernel line requests
	lineRequestsTotal = metrics.MustRegisterCounterVec(subSystem,
		"line_requests_total",
		"Number of kernel line requests",
		"gpio")

	// Number of failed kernel line requests
	lineRequestFailuresTotal = metrics.MustRegisterCounterVec(subSystem,
		"line_request_failures_total",
		"Number of failed kernel line requests",
		"gpio")

	// Number of delivered interrupt notifications
	interruptsTotal = metrics.MustRegisterCounterVec(subSystem,
		"interrupts_total",
		"Number of delivered interrupt notifications",
		"gpio")

	// Number of currently enabled monitors
	monitorsActiveGauge = metrics.MustRegisterGauge(subSystem,
		"monitors_active",
		"Number of currently enabled monitors")
)
