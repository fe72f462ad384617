package visualize

const entityCSS = `
.non-ner {
    color: black;
    line-height: 2.2rem;
    font-size: 1rem;
}
.entity-wrapper {
    display: inline-flex;
    justify-content: space-between;
    text-align: center;
    border-radius: 5px;
    margin: 3px 2px;
    border: 1px solid;
    overflow: hidden;
    font-size: 1rem;
}
.entity-name {
    font-size: 0.9rem;
    line-height: 1.5rem;
    text-align: center;
    font-weight: 400;
    padding: 2px 5px;
    display: inline-block;
}
.entity-type {
    font-size: 0.9rem;
    line-height: 1.5rem;
    color: #fff;
    text-transform: uppercase;
    font-weight: 500;
    display: inline-block;
    padding: 2px 5px;
}
`

// stackedCSS lays a secondary tag (assertion, code description) under the entity.
const stackedCSS = `
.non-ner {
    color: black;
    line-height: 3.4rem;
    font-size: 1rem;
}
.entity-wrapper-outer {
    display: inline-grid;
    text-align: center;
    border-radius: 4px;
    margin: 5px 2px;
    border: 1px solid;
    font-size: 1rem;
}
.entity-wrapper {
    display: inline-flex;
    text-align: center;
    justify-content: space-between;
    font-size: 1rem;
}
.entity-name {
    font-size: 0.9rem;
    line-height: 1.5rem;
    text-align: center;
    font-weight: 400;
    padding: 2px 5px;
    display: inline-block;
}
.entity-type, .entity-type-assertion {
    font-size: 0.9rem;
    line-height: 1.5rem;
    color: #fff;
    text-transform: uppercase;
    font-weight: 500;
    display: inline-block;
    padding: 3px 5px;
}
`
