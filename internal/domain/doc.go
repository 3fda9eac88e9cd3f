// Package domain models disaster records and the events that keep clients in
// sync with them.
//
// # Records
//
// A [Disaster] is created by a privileged caller and identified by a
// server-assigned UUID. The identifier, owner, and creation time never change.
// Updates are shallow merges described by a [DisasterPatch]: fields that are
// absent from the patch keep their current value. Every update appends an
// [AuditEntry] to the record's trail; the trail only grows.
//
// Locations use the GeoJSON point encoding the web client expects:
//
//	{"type": "Point", "coordinates": [<lng>, <lat>]}
//
// # Events
//
// Each committed mutation produces exactly one [Event]:
//
//	disaster_created  data = full record
//	disaster_updated  data = full merged record
//	disaster_deleted  data = {"id": "<id>", "deleted": true}
//
// Mutation events carry a sequence number assigned at commit. Sequence numbers
// increase by one per mutation, so a consumer that sees a jump knows it missed
// something and must refetch. Lookup events (social_media_updated,
// resources_updated) carry no sequence number and never touch record state.
//
// # Errors
//
// Operations fail with one of the sentinel errors in errors.go, wrapped with
// context. Callers match them with errors.Is.
package domain
