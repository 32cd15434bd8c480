// Package workspace defines workspace descriptors and the catalog that loads them.
//
// A Descriptor is an immutable value: a name, ordered seed files and the
// subset of paths exposed for editing ("files of interest"). The name is the
// identity key; two descriptors with the same name are the same workspace.
//
// Catalog files are YAML or TOML:
//
//	name: effect
//	files_of_interest: ["src/**/*.ts", "package.json"]
//	seed_dir: ./seeds/effect
//	include: ["**/*.ts", "package.json"]
//	files:
//	  - path: README.md
//	    content: "# Effect"
//
// Seed directories are walked concurrently; binary or non UTF-8 files are
// rejected. Globs in files_of_interest expand against seed paths, literal
// entries may name files that do not exist yet and are mounted empty.
package workspace
