/*
Copyright 2026 The cryptobackup authors.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package server

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "cryptobackup"

// Registry is a dedicated prometheus registry for the backup server's
// metrics, kept separate from prometheus.DefaultRegisterer so embedding
// this package never surprises a host process with extra series.
var Registry = prometheus.NewRegistry()

var (
	sessionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_accepted_total",
		Help:      "Number of client connections accepted.",
	})
	bytesTransferred = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "bytes_received_total",
		Help:      "Total plaintext bytes written to disk across all uploads.",
	})
	crcRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "crc_retries_total",
		Help:      "Number of CRC-mismatch retries observed across all sessions.",
	})
	sessionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "session_errors_total",
		Help:      "Sessions that ended in an error, labeled by error kind.",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(sessionsAccepted, bytesTransferred, crcRetries, sessionErrors)
}
