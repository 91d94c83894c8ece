// Package harness runs query conformance scenarios.
//
// A scenario compiles a schema, seeds fixtures into fresh in-memory
// datastores, runs queries through the ORM and checks what they return.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: person_with_fido
//	description: "People owning a pet named Fido"
//	schema: |
//	  entity: person: attributes: {
//	    name: {}
//	    pet:  {model: "pet", columnName: "petId"}
//	  }
//	  entity: pet: attributes: name: {}
//	datastores:
//	  - name: default
//	    kind: sqlite
//	fixtures:
//	  pet:
//	    - {id: 5, name: Fido}
//	  person:
//	    - {id: 1, name: Alice, petId: 5}
//	queries:
//	  - name: by_pet
//	    from: person
//	    query: {where: {pet: {name: Fido}}, select: [name]}
//	    expect:
//	      - {id: 1, name: Alice}
//	    assertions:
//	      - type: buffer
//	        identity: "person#0.where.pet"
//	  - name: bad
//	    from: person
//	    query: {name: {">": 1, whose: {}}}
//	    expect_error: MALFORMED_QUERY
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - count: the query returned exactly N records
//   - contains: some record has the given fields (subset match)
//   - order: the values of one attribute, in record order
//   - buffer: the execution allocated a heap buffer
//   - max_fetches: the execution issued at most N adapter fetches
//
// # Deterministic Testing
//
// Execution IDs come from a testutil.SequentialIDGenerator prefixed with the
// scenario name, fixtures are seeded in entity name order and records are
// compared in canonical JSON form, so a scenario produces the same snapshot
// on every run and under every datastore kind. RunWithGolden compares that
// snapshot against testdata/golden/<name>.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/zoo.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario, harness.WithDatastoreKind("sqlite"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
