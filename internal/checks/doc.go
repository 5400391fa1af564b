// Package checks holds the fourteen trust probes run by the orchestrator.
//
// Every probe implements probe.Probe and owns exactly one pipeline step. A
// probe never touches shared state: it returns its status sub-record as the
// Result's Patch and the orchestrator applies it. Failures are reported as
// unsuccessful Results built with Kit.HandleError, so the sanitized message
// lands in the sub-record's Error field.
//
// Probes read the outside world only through collaborators injected via
// Dependencies:
//
//   - platform.Environment supplies document and host facts (meta tags,
//     response headers, protocol, locale) for the inspector probes.
//   - platform.Storage backs the storage round trip, GDPR erasure and HSM key
//     metadata.
//   - platform.Authenticator answers the biometric probe.
//   - hsm.Keystore and zkp.Group carry the two cryptographic protocols.
//
// The GDPR, SOC2 and threat detection probes only evaluate environment flags.
package checks
