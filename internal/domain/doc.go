// Package domain models seismic events published by the USGS earthquake feed.
//
// # Data Source
//
// The feed is an Atom document. Every <entry> describes one event and carries
// the fields this service keeps:
//
//	<entry>
//	  <title>M 5.4, Offshore Region</title>
//	  <updated>2024-04-26T15:10:42Z</updated>
//	  <link href="http://earthquake.usgs.gov/..."/>
//	  <georss:point>12.3 -45.6</georss:point>
//	</entry>
//
// # Feed Conventions
//
// Title format:
//
//	"M <magnitude><unit>, <description>"  →  e.g. "M 5.4, Offshore Region".
//	The magnitude is the second space-separated word; its last character is
//	a unit or separator and is dropped before parsing. The description is
//	everything after the first comma.
//
// Point format:
//
//	"<latitude> <longitude>" in decimal degrees, space separated.
//
// Time format:
//
//	"2006-01-02T15:04:05Z" in 24-hour UTC notation. A malformed value does not
//	drop the entry; it is stored under [SentinelTime] instead. Two malformed
//	entries in one feed therefore collide on the dedup key and the second is
//	rejected as a duplicate.
//
// # Identity
//
// OccurredAt is the natural key. Two quakes with the same OccurredAt are the
// same event no matter how the other fields differ. The store adds a
// monotonically increasing numeric ID on first insert.
package domain
