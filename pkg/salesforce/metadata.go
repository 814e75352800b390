package salesforce

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html"
	"os"
	"strings"
	"time"
)

// MetadataClient drives the Metadata SOAP API: packaged deploys and
// retrieves plus the describe and list calls. Request envelopes are built
// from fixed templates and responses are decoded into typed structs, so no
// WSDL is consumed at runtime. Obtain one from Client.Metadata.
type MetadataClient struct {
	client      *Client
	metadataURL string
}

// DeployOptions mirrors the DeployOptions element of a deploy call. The
// zero value deploys with rollback on error and the server's default test
// level.
type DeployOptions struct {
	AllowMissingFiles bool
	AutoUpdatePackage bool
	CheckOnly         bool
	IgnoreWarnings    bool
	PerformRetrieve   bool
	PurgeOnDelete     bool
	SinglePackage     bool
	// TestLevel is one of NoTestRun, RunSpecifiedTests, RunLocalTests,
	// RunAllTestsInOrg. Empty leaves the server default.
	TestLevel string
	// RunTests names the test classes for RunSpecifiedTests.
	RunTests []string
}

// AsyncProcess identifies an in-flight deploy or retrieve.
type AsyncProcess struct {
	ID    string
	State string
}

const metadataDeployEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope
        xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:met="http://soap.sforce.com/2006/04/metadata">
    <soapenv:Header>
        <met:CallOptions>
            <met:client>%s</met:client>
        </met:CallOptions>
        <met:SessionHeader>
            <met:sessionId>%s</met:sessionId>
        </met:SessionHeader>
    </soapenv:Header>
    <soapenv:Body>
        <met:deploy>
            <met:ZipFile>%s</met:ZipFile>
            <met:DeployOptions>
                <met:allowMissingFiles>%t</met:allowMissingFiles>
                <met:autoUpdatePackage>%t</met:autoUpdatePackage>
                <met:checkOnly>%t</met:checkOnly>
                <met:ignoreWarnings>%t</met:ignoreWarnings>
                <met:performRetrieve>%t</met:performRetrieve>
                <met:purgeOnDelete>%t</met:purgeOnDelete>
                <met:rollbackOnError>true</met:rollbackOnError>
                <met:singlePackage>%t</met:singlePackage>
                %s
            </met:DeployOptions>
        </met:deploy>
    </soapenv:Body>
</soapenv:Envelope>`

const metadataCheckDeployEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope
        xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:met="http://soap.sforce.com/2006/04/metadata">
    <soapenv:Header>
        <met:CallOptions>
            <met:client>%s</met:client>
        </met:CallOptions>
        <met:SessionHeader>
            <met:sessionId>%s</met:sessionId>
        </met:SessionHeader>
    </soapenv:Header>
    <soapenv:Body>
        <met:checkDeployStatus>
            <met:asyncProcessId>%s</met:asyncProcessId>
            <met:includeDetails>true</met:includeDetails>
        </met:checkDeployStatus>
    </soapenv:Body>
</soapenv:Envelope>`

const metadataRetrieveEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope
        xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:met="http://soap.sforce.com/2006/04/metadata">
    <soapenv:Header>
        <met:CallOptions>
            <met:client>%s</met:client>
        </met:CallOptions>
        <met:SessionHeader>
            <met:sessionId>%s</met:sessionId>
        </met:SessionHeader>
    </soapenv:Header>
    <soapenv:Body>
        <met:retrieve>
            <met:retrieveRequest>
                <met:apiVersion>%s</met:apiVersion>
                <met:singlePackage>%t</met:singlePackage>
                <met:unpackaged>
%s                </met:unpackaged>
            </met:retrieveRequest>
        </met:retrieve>
    </soapenv:Body>
</soapenv:Envelope>`

const metadataCheckRetrieveEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope
        xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:met="http://soap.sforce.com/2006/04/metadata">
    <soapenv:Header>
        <met:CallOptions>
            <met:client>%s</met:client>
        </met:CallOptions>
        <met:SessionHeader>
            <met:sessionId>%s</met:sessionId>
        </met:SessionHeader>
    </soapenv:Header>
    <soapenv:Body>
        <met:checkRetrieveStatus>
            <met:asyncProcessId>%s</met:asyncProcessId>
            <met:includeZip>%t</met:includeZip>
        </met:checkRetrieveStatus>
    </soapenv:Body>
</soapenv:Envelope>`

const metadataDescribeEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope
        xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:met="http://soap.sforce.com/2006/04/metadata">
    <soapenv:Header>
        <met:SessionHeader>
            <met:sessionId>%s</met:sessionId>
        </met:SessionHeader>
    </soapenv:Header>
    <soapenv:Body>
        <met:describeMetadata>
            <met:asOfVersion>%s</met:asOfVersion>
        </met:describeMetadata>
    </soapenv:Body>
</soapenv:Envelope>`

const metadataListEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope
        xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:met="http://soap.sforce.com/2006/04/metadata">
    <soapenv:Header>
        <met:SessionHeader>
            <met:sessionId>%s</met:sessionId>
        </met:SessionHeader>
    </soapenv:Header>
    <soapenv:Body>
        <met:listMetadata>
            <met:queries>
                <met:type>%s</met:type>%s
            </met:queries>
            <met:asOfVersion>%s</met:asOfVersion>
        </met:listMetadata>
    </soapenv:Body>
</soapenv:Envelope>`

// soapCall posts one Metadata SOAP envelope and returns the raw response
// body. SOAP faults arrive with HTTP 500 and are mapped to an
// OperationError carrying the faultstring.
func (m *MetadataClient) soapCall(ctx context.Context, action, envelope string) ([]byte, error) {
	headers := m.client.authHeaders(map[string]string{
		"Content-Type": "text/xml; charset=UTF-8",
		"SOAPAction":   action,
	})
	resp, err := m.client.httpClient.Post(ctx, m.metadataURL, headers, envelope)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		if fault := xmlElementValue(resp.Body, "faultstring"); fault != "" {
			return nil, &OperationError{Message: fault}
		}
		return nil, statusError(m.metadataURL, resp.StatusCode, "metadata", resp.Body)
	}
	return resp.Body, nil
}

func (m *MetadataClient) runTestsXML(opts DeployOptions) string {
	var b strings.Builder
	if opts.TestLevel != "" {
		fmt.Fprintf(&b, "<met:testLevel>%s</met:testLevel>\n", html.EscapeString(opts.TestLevel))
	}
	for _, test := range opts.RunTests {
		fmt.Fprintf(&b, "<met:runTests>%s</met:runTests>\n", html.EscapeString(test))
	}
	return b.String()
}

// Deploy submits a metadata package zip and returns the async process to
// poll with CheckDeployStatus.
func (m *MetadataClient) Deploy(ctx context.Context, zipPath string, opts DeployOptions) (*AsyncProcess, error) {
	contents, err := os.ReadFile(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read deploy zip: %w", err)
	}
	return m.DeployZip(ctx, contents, opts)
}

// DeployZip is Deploy for an in-memory package zip.
func (m *MetadataClient) DeployZip(ctx context.Context, zipContents []byte, opts DeployOptions) (*AsyncProcess, error) {
	envelope := fmt.Sprintf(metadataDeployEnvelope,
		defaultClientIDPrefix,
		m.client.SessionID(),
		base64.StdEncoding.EncodeToString(zipContents),
		opts.AllowMissingFiles,
		opts.AutoUpdatePackage,
		opts.CheckOnly,
		opts.IgnoreWarnings,
		opts.PerformRetrieve,
		opts.PurgeOnDelete,
		opts.SinglePackage,
		m.runTestsXML(opts))

	body, err := m.soapCall(ctx, "deploy", envelope)
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName xml.Name `xml:"Envelope"`
		Result  struct {
			ID    string `xml:"id"`
			State string `xml:"state"`
		} `xml:"Body>deployResponse>result"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode deploy response: %w", err)
	}
	if resp.Result.ID == "" {
		return nil, &OperationError{Message: "deploy response is missing the async process id"}
	}
	return &AsyncProcess{ID: resp.Result.ID, State: resp.Result.State}, nil
}

// ComponentFailure is one component-level deploy error.
type ComponentFailure struct {
	ComponentType string `xml:"componentType"`
	FileName      string `xml:"fileName"`
	FullName      string `xml:"fullName"`
	ProblemType   string `xml:"problemType"`
	Problem       string `xml:"problem"`
}

// UnitTestFailure is one Apex test failure raised by a deploy.
type UnitTestFailure struct {
	Name       string `xml:"name"`
	MethodName string `xml:"methodName"`
	Message    string `xml:"message"`
	StackTrace string `xml:"stackTrace"`
}

// DeployStatus is the flattened result of a checkDeployStatus call.
type DeployStatus struct {
	ID                       string             `xml:"id"`
	Done                     bool               `xml:"done"`
	Status                   string             `xml:"status"`
	StateDetail              string             `xml:"stateDetail"`
	ErrorMessage             string             `xml:"errorMessage"`
	NumberComponentsTotal    int                `xml:"numberComponentsTotal"`
	NumberComponentsDeployed int                `xml:"numberComponentsDeployed"`
	NumberComponentErrors    int                `xml:"numberComponentErrors"`
	NumberTestsTotal         int                `xml:"numberTestsTotal"`
	NumberTestsCompleted     int                `xml:"numberTestsCompleted"`
	NumberTestErrors         int                `xml:"numberTestErrors"`
	ComponentFailures        []ComponentFailure `xml:"details>componentFailures"`
	TestFailures             []UnitTestFailure  `xml:"details>runTestResult>failures"`
}

// CheckDeployStatus fetches the current state of a deploy, including
// component and test failures once available.
func (m *MetadataClient) CheckDeployStatus(ctx context.Context, asyncProcessID string) (*DeployStatus, error) {
	envelope := fmt.Sprintf(metadataCheckDeployEnvelope,
		defaultClientIDPrefix, m.client.SessionID(), asyncProcessID)
	body, err := m.soapCall(ctx, "checkDeployStatus", envelope)
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName xml.Name     `xml:"Envelope"`
		Result  DeployStatus `xml:"Body>checkDeployStatusResponse>result"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode deploy status: %w", err)
	}
	return &resp.Result, nil
}

// WaitForDeploy polls a deploy until the server reports it done, then
// returns the final status. The status may still be Failed; callers decide
// how to treat it. A zero timeout uses DefaultPollTimeout.
func (m *MetadataClient) WaitForDeploy(ctx context.Context, asyncProcessID string, timeout time.Duration) (*DeployStatus, error) {
	var final *DeployStatus
	err := pollUntil(ctx, 2*time.Second, time.Minute, timeout, func(ctx context.Context) (bool, error) {
		status, err := m.CheckDeployStatus(ctx, asyncProcessID)
		if err != nil {
			return false, err
		}
		final = status
		return status.Done, nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// Retrieve requests an unpackaged retrieve of the named components.
// unpackaged maps metadata type to member names, e.g.
// {"CustomObject": {"Account"}}; a "*" member retrieves all of a type.
func (m *MetadataClient) Retrieve(ctx context.Context, unpackaged map[string][]string, singlePackage bool) (*AsyncProcess, error) {
	var types strings.Builder
	for metadataType, members := range unpackaged {
		types.WriteString("                    <met:types>\n")
		for _, member := range members {
			fmt.Fprintf(&types, "                        <met:members>%s</met:members>\n", html.EscapeString(member))
		}
		fmt.Fprintf(&types, "                        <met:name>%s</met:name>\n", html.EscapeString(metadataType))
		types.WriteString("                    </met:types>\n")
	}

	envelope := fmt.Sprintf(metadataRetrieveEnvelope,
		defaultClientIDPrefix,
		m.client.SessionID(),
		m.client.Version(),
		singlePackage,
		types.String())
	body, err := m.soapCall(ctx, "retrieve", envelope)
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName xml.Name `xml:"Envelope"`
		Result  struct {
			ID    string `xml:"id"`
			State string `xml:"state"`
		} `xml:"Body>retrieveResponse>result"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode retrieve response: %w", err)
	}
	return &AsyncProcess{ID: resp.Result.ID, State: resp.Result.State}, nil
}

// RetrieveMessage is one file-level warning or error from a retrieve.
type RetrieveMessage struct {
	FileName string `xml:"fileName"`
	Problem  string `xml:"problem"`
}

// RetrieveStatus is the result of a checkRetrieveStatus call. ZipFile is
// base64 when includeZip was requested; RetrieveZip returns it decoded.
type RetrieveStatus struct {
	ID           string            `xml:"id"`
	Done         bool              `xml:"done"`
	Status       string            `xml:"status"`
	ErrorMessage string            `xml:"errorMessage"`
	Messages     []RetrieveMessage `xml:"messages"`
	ZipFile      string            `xml:"zipFile"`
}

func (m *MetadataClient) checkRetrieveStatus(ctx context.Context, asyncProcessID string, includeZip bool) (*RetrieveStatus, error) {
	envelope := fmt.Sprintf(metadataCheckRetrieveEnvelope,
		defaultClientIDPrefix, m.client.SessionID(), asyncProcessID, includeZip)
	body, err := m.soapCall(ctx, "checkRetrieveStatus", envelope)
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName xml.Name       `xml:"Envelope"`
		Result  RetrieveStatus `xml:"Body>checkRetrieveStatusResponse>result"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode retrieve status: %w", err)
	}
	return &resp.Result, nil
}

// CheckRetrieveStatus fetches the current state of a retrieve without the
// package zip.
func (m *MetadataClient) CheckRetrieveStatus(ctx context.Context, asyncProcessID string) (*RetrieveStatus, error) {
	return m.checkRetrieveStatus(ctx, asyncProcessID, false)
}

// RetrieveZip waits for a retrieve to finish and returns the decoded
// package zip along with the final status.
func (m *MetadataClient) RetrieveZip(ctx context.Context, asyncProcessID string, timeout time.Duration) ([]byte, *RetrieveStatus, error) {
	err := pollUntil(ctx, 2*time.Second, time.Minute, timeout, func(ctx context.Context) (bool, error) {
		status, err := m.checkRetrieveStatus(ctx, asyncProcessID, false)
		if err != nil {
			return false, err
		}
		return status.Done, nil
	})
	if err != nil {
		return nil, nil, err
	}

	status, err := m.checkRetrieveStatus(ctx, asyncProcessID, true)
	if err != nil {
		return nil, nil, err
	}
	if status.Status == "Failed" {
		return nil, status, &OperationError{Message: fmt.Sprintf(
			"retrieve failed: %s", status.ErrorMessage)}
	}
	zipContents, err := base64.StdEncoding.DecodeString(strings.TrimSpace(status.ZipFile))
	if err != nil {
		return nil, status, fmt.Errorf("failed to decode retrieve zip: %w", err)
	}
	return zipContents, status, nil
}

// MetadataObject describes one metadata type known to the org.
type MetadataObject struct {
	XMLName       string   `xml:"xmlName"`
	DirectoryName string   `xml:"directoryName"`
	Suffix        string   `xml:"suffix"`
	InFolder      bool     `xml:"inFolder"`
	MetaFile      bool     `xml:"metaFile"`
	ChildXMLNames []string `xml:"childXmlNames"`
}

// DescribeMetadata lists the metadata types available at the session's API
// version.
func (m *MetadataClient) DescribeMetadata(ctx context.Context) ([]MetadataObject, error) {
	envelope := fmt.Sprintf(metadataDescribeEnvelope, m.client.SessionID(), m.client.Version())
	body, err := m.soapCall(ctx, "describeMetadata", envelope)
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName xml.Name `xml:"Envelope"`
		Result  struct {
			MetadataObjects []MetadataObject `xml:"metadataObjects"`
		} `xml:"Body>describeMetadataResponse>result"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode describe metadata response: %w", err)
	}
	return resp.Result.MetadataObjects, nil
}

// FileProperties describes one component returned by ListMetadata.
type FileProperties struct {
	FullName         string `xml:"fullName"`
	FileName         string `xml:"fileName"`
	Type             string `xml:"type"`
	ID               string `xml:"id"`
	CreatedByName    string `xml:"createdByName"`
	LastModifiedDate string `xml:"lastModifiedDate"`
}

// ListMetadata lists the components of one metadata type. folder is
// required for in-folder types such as EmailTemplate and empty otherwise.
func (m *MetadataClient) ListMetadata(ctx context.Context, metadataType, folder string) ([]FileProperties, error) {
	folderXML := ""
	if folder != "" {
		folderXML = fmt.Sprintf("\n                <met:folder>%s</met:folder>", html.EscapeString(folder))
	}
	envelope := fmt.Sprintf(metadataListEnvelope,
		m.client.SessionID(),
		html.EscapeString(metadataType),
		folderXML,
		m.client.Version())
	body, err := m.soapCall(ctx, "listMetadata", envelope)
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName xml.Name         `xml:"Envelope"`
		Results []FileProperties `xml:"Body>listMetadataResponse>result"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode list metadata response: %w", err)
	}
	return resp.Results, nil
}
