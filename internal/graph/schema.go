package graph

const (
	createElements = `CREATE TABLE IF NOT EXISTS elements (
    text TEXT PRIMARY KEY,
    emoji TEXT NOT NULL DEFAULT '',
    discovered INTEGER NOT NULL DEFAULT 0,
    depth INTEGER,
    yield INTEGER NOT NULL DEFAULT 0,
    recipe_count INTEGER NOT NULL DEFAULT 0,
    freq INTEGER NOT NULL DEFAULT 0
);`

	createRecipes = `CREATE TABLE IF NOT EXISTS recipes (
    input1 TEXT NOT NULL,
    input2 TEXT NOT NULL,
    output TEXT NOT NULL,
    PRIMARY KEY (input1, input2)
);`

	createShortestPath = `CREATE TABLE IF NOT EXISTS shortest_path (
    output TEXT PRIMARY KEY,
    input1 TEXT NOT NULL,
    input2 TEXT NOT NULL
);`

	idxRecipesOutput = `CREATE INDEX IF NOT EXISTS idx_recipes_output ON recipes(output);`
	idxRecipesInput2 = `CREATE INDEX IF NOT EXISTS idx_recipes_input2 ON recipes(input2);`
	idxElementsDepth = `CREATE INDEX IF NOT EXISTS idx_elements_depth ON elements(depth);`
)

var schemaDDL = []string{
	createElements,
	createRecipes,
	createShortestPath,
	idxRecipesOutput,
	idxRecipesInput2,
	idxElementsDepth,
}

const elementColumns = `text, emoji, discovered, depth, yield, recipe_count, freq`
