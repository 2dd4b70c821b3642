// Package campaign tracks marketing campaigns run against a persona
// segment.
//
// A campaign is started (status running) and later completed by a webhook
// from the workflow engine. The service layer owns the lifecycle rules and
// depends on the Repository interface defined here; implementations live in
// repository/postgres and repository/memory.
package campaign
