// Package checkpoint saves and resumes the position of paginated listings.
//
// A checkpoint records the cursor of the next page, page and item counts,
// and the ids of items already written to output, so a run interrupted by a
// failure or a manual stop continues where it left off without duplicates.
//
// Checkpoints are stored in platform-specific data directories:
//   - Linux: ~/.local/share/tokscraper/checkpoints/
//   - macOS: ~/Library/Application Support/tokscraper/checkpoints/
//   - Windows: %APPDATA%/tokscraper/checkpoints/
//
// Files are replaced atomically and carry a version number.
package checkpoint
