// Package domain holds the records that move through a segmentation batch
// and a campaign: sanitized customer rows, the cluster each row was put in,
// the persona that cluster was named, the table a persona is stored in, and
// the campaign log kept for each send.
//
// A CustomerRecord carries numeric attributes (booleans as 0/1) and, for
// columns that were not numeric across the batch, text categories. Cluster
// ids are only meaningful inside the batch that produced them; the Persona
// is what gets stored and queried afterwards.
//
// Campaigns move from running to completed and never back. The package
// imports nothing from internal/ so every layer can share these types.
package domain
