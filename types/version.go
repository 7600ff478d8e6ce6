package types

// Version is the evalfactory release version.
// Follows semver. Update on each release.
const Version = "0.2.0"
