// Package metadatatest provides a small catalog covering every attribute type
// tag, for tests in packages that need a registry.
package metadatatest

import (
	"testing"

	"github.com/scottdurow/dataverseify/pkg/metadata"
)

// CatalogYAML is a generator-shaped catalog.
const CatalogYAML = `
entities:
  account:
    typeName: mscrm.account
    collectionName: accounts
    primaryIdAttribute: accountid
    attributeTypes:
      accountid: Guid
      name: String
      accountnumber: String
      creditlimit: Decimal
      numberofemployees: Integer
      parentaccountid: Lookup
      primarycontactid: Lookup
      statecode: Optionset
    navigation:
      parentaccountid: [mscrm.account]
      primarycontactid: [mscrm.contact]
      contact_customer_accounts: [contact]
    optionSets:
      statecode:
        - {value: 0, label: Active}
        - {value: 1, label: Inactive}
  contact:
    typeName: mscrm.contact
    collectionName: contacts
    primaryIdAttribute: contactid
    attributeTypes:
      contactid: Guid
      fullname: String
      firstname: String
      lastname: String
      emailaddress1: String
      birthdate: "DateOnly:UserLocal"
      parentcustomerid: Lookup
    navigation:
      parentcustomerid: [account, contact]
  opportunity:
    typeName: mscrm.opportunity
    collectionName: opportunities
    primaryIdAttribute: opportunityid
    attributeTypes:
      opportunityid: Guid
      name: String
      customerid: Lookup
      statecode: Optionset
      statuscode: Optionset
      estimatedvalue: Decimal
      estimatedclosedate: "DateOnly:UserLocal"
      closeprobability: Integer
      new_bigcounter: BigInt
      new_ratio: Double
      isrevenuesystemcalculated: Boolean
      modifiedon: "DateAndTime:UserLocal"
    navigation:
      customerid: [account, contact]
    optionSets:
      statecode:
        - {value: 0, label: Open}
        - {value: 1, label: Won}
        - {value: 2, label: Lost}
      statuscode:
        - {value: 1, label: In Progress}
        - {value: 2, label: On Hold}
        - {value: 3, label: Won}
        - {value: 4, label: Canceled}
        - {value: 5, label: Out-Sold}
  opportunityclose:
    typeName: mscrm.opportunityclose
    collectionName: opportunitycloses
    primaryIdAttribute: activityid
    attributeTypes:
      activityid: Guid
      subject: String
      description: String
      opportunityid: Lookup
      actualrevenue: Decimal
      actualend: "DateOnly:UserLocal"
    navigation:
      opportunityid: [opportunity]
  email:
    typeName: mscrm.email
    collectionName: emails
    primaryIdAttribute: activityid
    attributeTypes:
      activityid: Guid
      subject: String
      to: PartyList
      from: PartyList
      regardingobjectid: Lookup
      scheduledend: "DateAndTime:UserLocal"
    navigation:
      from: [systemuser, queue]
      regardingobjectid: [account, contact, opportunity]
  systemuser:
    typeName: mscrm.systemuser
    collectionName: systemusers
    primaryIdAttribute: systemuserid
    attributeTypes:
      systemuserid: Guid
      fullname: String
actions:
  WinOpportunity:
    operationType: Action
    parameterTypes:
      Status:
        typeName: Edm.Int32
        structuralProperty: PrimitiveType
      OpportunityClose:
        typeName: mscrm.opportunityclose
        structuralProperty: EntityType
  LoseOpportunity:
    operationType: Action
    parameterTypes:
      Status:
        typeName: Edm.Int32
        structuralProperty: PrimitiveType
      OpportunityClose:
        typeName: mscrm.opportunityclose
        structuralProperty: EntityType
  WhoAmI:
    operationType: Function
    parameterTypes: {}
  new_BulkTag:
    operationType: Action
    parameterTypes:
      Targets:
        typeName: Collection(mscrm.crmbaseentity)
        structuralProperty: Collection
      Labels:
        typeName: Collection(Edm.String)
        structuralProperty: Collection
      Mode:
        typeName: mscrm.new_tagmode
        structuralProperty: EnumType
        nullable: true
      Weight:
        typeName: Edm.Decimal
        structuralProperty: PrimitiveType
        nullable: true
`

// Registry builds a registry from CatalogYAML, failing the test on error.
func Registry(tb testing.TB) *metadata.Registry {
	tb.Helper()
	reg, err := metadata.Load([]byte(CatalogYAML))
	if err != nil {
		tb.Fatalf("failed to load test catalog: %v", err)
	}
	return reg
}
