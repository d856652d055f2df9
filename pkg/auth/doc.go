// Package auth implements the device-code authentication core: initiating
// an out-of-band login, polling it to completion, caching and refreshing
// the resulting credentials. Collaborators receive a Manager and obtain
// validated tokens from it; raw provider and transport errors never cross
// the package boundary, they are translated into the typed Error taxonomy.
package auth
