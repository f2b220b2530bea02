// Package integration contains the Integration bounded context.
// It models the third-party accounts an organization connects for conversion delivery.
//
// Key concepts:
//   - Integration: one connected account (Meta pixel, Google Ads customer) with encrypted credentials
//   - SyncLog: append-only audit record of a delivery attempt batch
//   - Credentials: decrypted per-platform secrets, held in memory only for the duration of a call
//
// Design Pattern: Ports & Adapters
//   - Repository ports are defined here in the domain layer
//   - Adapters (gorm implementations) are in the infrastructure layer
package integration
