package workspace

// Builtin returns the workspaces shipped with the playground. They are used
// when no catalog directory is configured.
func Builtin() *Catalog {
	c, _ := NewCatalog(
		MustNew("effect",
			[]SeedFile{
				{Path: "package.json", Content: effectPackageJSON},
				{Path: "index.js", Content: effectIndex},
			},
			[]string{"index.js", "package.json"},
		),
		MustNew("hello",
			[]SeedFile{
				{Path: "package.json", Content: helloPackageJSON},
				{Path: "main.js", Content: helloMain},
				{Path: "greet.js", Content: helloGreet},
			},
			[]string{"main.js", "greet.js"},
		),
	)
	return c
}

const effectPackageJSON = `{
  "name": "effect-tutorial",
  "private": true,
  "scripts": {
    "start": "node index.js"
  },
  "dependencies": {
    "effect": "latest"
  }
}
`

const effectIndex = `const program = (n) => n * 2

console.log("result:", program(21))
`

const helloPackageJSON = `{
  "name": "hello",
  "main": "main.js"
}
`

const helloMain = `const greet = require("./greet")

console.log(greet("playground"))
`

const helloGreet = `module.exports = (name) => "Hello, " + name + "!"
`
