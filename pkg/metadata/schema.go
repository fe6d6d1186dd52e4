package metadata

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// catalogSchema describes the generator output. Definitions are closed, so
// misspelled keys are rejected rather than ignored.
const catalogSchema = `
#AttributeType: "Integer" | "Double" | "Decimal" | "BigInt" | "Boolean" | "String" |
	"Guid" | "Optionset" | "Lookup" | "DateOnly:UserLocal" | "DateAndTime:UserLocal" | "PartyList"

#LogicalName: string & =~"^[a-z][a-z0-9_]*$"

#Entity: {
	typeName?:          string & =~"^mscrm\\.[a-z][a-z0-9_]*$"
	logicalName?:       #LogicalName
	collectionName:     string & !=""
	primaryIdAttribute: string & !=""
	attributeTypes: {[string]: #AttributeType}
	navigation?: {[string]: [...string]}
	optionSets?: {[string]: [...{value: int, label: string}]}
}

#Parameter: {
	typeName:           string & !=""
	structuralProperty: "PrimitiveType" | "EntityType" | "EnumType" | "Collection"
	nullable?:          bool
}

#Action: {
	operationName?:  string
	operationType:   "Action" | "Function"
	boundParameter?: string
	parameterTypes: {[string]: #Parameter}
}

#Catalog: {
	entities: {[#LogicalName]: #Entity}
	actions?: {[string]: #Action}
}
`

var (
	cueOnce    sync.Once
	cueCtx     *cue.Context
	cueCatalog cue.Value
	cueErr     error
)

func catalogDefinition() (*cue.Context, cue.Value, error) {
	cueOnce.Do(func() {
		cueCtx = cuecontext.New()
		val := cueCtx.CompileString(catalogSchema)
		if err := val.Err(); err != nil {
			cueErr = fmt.Errorf("failed to compile catalog schema: %w", err)
			return
		}
		cueCatalog = val.LookupPath(cue.ParsePath("#Catalog"))
		if err := cueCatalog.Err(); err != nil {
			cueErr = fmt.Errorf("catalog schema has no #Catalog definition: %w", err)
		}
	})
	return cueCtx, cueCatalog, cueErr
}

// ValidateDocument checks a decoded catalog document (maps, slices and
// scalars) against the catalog schema.
func ValidateDocument(doc any) error {
	ctx, def, err := catalogDefinition()
	if err != nil {
		return err
	}

	data := ctx.Encode(doc)
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	unified := def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("catalog does not match schema: %w", err)
	}
	return nil
}
